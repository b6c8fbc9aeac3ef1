package handler

import (
	"encoding/json"
	"net/http"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/pkg/log"
	"prompt-forge-go/pkg/token"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SocketHandler 通过 WebSocket 推送会话事件，并接收停止指令。
type SocketHandler struct {
	sessions    service.SessionService
	userService service.UserService
	hub         *service.EventHub
	jwtManager  *token.JWTManager
}

// NewSocketHandler 创建一个新的 SocketHandler。
func NewSocketHandler(sessions service.SessionService, userService service.UserService, hub *service.EventHub, jwtManager *token.JWTManager) *SocketHandler {
	return &SocketHandler{sessions: sessions, userService: userService, hub: hub, jwtManager: jwtManager}
}

// clientMessage 是前端发来的控制消息：{"type":"stop"} 或 {"type":"ping"}。
type clientMessage struct {
	Type string `json:"type"`
}

// socketConn 串行化对同一连接的写入。
type socketConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socketConn) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Handle 处理 /ws/sessions/:id/:token 上的连接。
func (h *SocketHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"), token.PurposeSocket)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "无效的 token")
		return
	}
	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "用户不存在")
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	sc := &socketConn{conn: conn}
	log.Infof("WebSocket 连接已建立，用户: %s，会话: %s", user.Username, sess.ID())

	// 1. 订阅后先推送一次完整快照，之后只推送增量事件
	events, cancel := h.hub.Subscribe(sess.ID())
	defer cancel()
	if err := sc.send(gin.H{"type": "snapshot", "sessionId": sess.ID(), "session": sess.Snapshot(), "timestamp": time.Now().UnixMilli()}); err != nil {
		return
	}

	// 2. 写循环
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := sc.send(ev); err != nil {
				log.Warnf("向 WebSocket 写入事件失败: %v", err)
				conn.Close()
				return
			}
		}
	}()

	// 3. 读循环：处理停止指令
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Infof("WebSocket 连接关闭，会话: %s, 原因: %v", sess.ID(), err)
			break
		}
		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warnf("无法解析 WebSocket 消息: %s", string(message))
			continue
		}
		switch msg.Type {
		case "stop":
			interrupted := sess.Interrupt()
			_ = sc.send(gin.H{
				"type":        "stop",
				"message":     "响应已停止",
				"interrupted": interrupted,
				"timestamp":   time.Now().UnixMilli(),
			})
		case "ping":
			_ = sc.send(gin.H{"type": "pong", "timestamp": time.Now().UnixMilli()})
		default:
			log.Warnf("未知的 WebSocket 消息类型: %s", msg.Type)
		}
	}

	cancel()
	<-done
}
