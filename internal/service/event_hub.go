package service

import (
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/workflow"
	"prompt-forge-go/pkg/log"
	"sync"
	"time"
)

// 推送给前端的事件类型。
const (
	EventStageActivated = "stage"
	EventArtifacts      = "artifacts"
	EventTurns          = "turns"
	EventStatus         = "status"
	EventNotice         = "notice"
)

// subscriberBuffer 是每个订阅者的事件缓冲；缓冲满时丢弃新事件，避免慢连接阻塞流水线。
const subscriberBuffer = 256

// Event 是会话状态变化的推送消息。
type Event struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"sessionId"`
	Stage     model.Stage              `json:"stage,omitempty"`
	Artifacts *model.PipelineArtifacts `json:"artifacts,omitempty"`
	Turns     []model.ConversationTurn `json:"turns,omitempty"`
	Status    *model.SessionStatus     `json:"status,omitempty"`
	Level     workflow.NoticeLevel     `json:"level,omitempty"`
	Message   string                   `json:"message,omitempty"`
	Timestamp int64                    `json:"timestamp"`
}

// EventHub 把会话的提示消息与状态变化分发给订阅了该会话的连接。
// 它同时实现 workflow.Notifier 与 workflow.Observer。
type EventHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewEventHub 创建一个空的 EventHub。
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe 订阅一个会话的事件，返回事件通道与取消函数。
func (h *EventHub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers 返回会话当前的订阅数。
func (h *EventHub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *EventHub) publish(ev Event) {
	ev.Timestamp = time.Now().UnixMilli()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			log.Warnf("[EventHub] 会话 %s 的订阅者缓冲已满，丢弃 %s 事件", ev.SessionID, ev.Type)
		}
	}
}

func (h *EventHub) Notify(sessionID string, level workflow.NoticeLevel, message string) {
	h.publish(Event{Type: EventNotice, SessionID: sessionID, Level: level, Message: message})
}

func (h *EventHub) StageActivated(sessionID string, stage model.Stage) {
	h.publish(Event{Type: EventStageActivated, SessionID: sessionID, Stage: stage})
}

func (h *EventHub) ArtifactsChanged(sessionID string, artifacts model.PipelineArtifacts) {
	h.publish(Event{Type: EventArtifacts, SessionID: sessionID, Artifacts: &artifacts})
}

func (h *EventHub) TurnsChanged(sessionID string, turns []model.ConversationTurn) {
	h.publish(Event{Type: EventTurns, SessionID: sessionID, Turns: turns})
}

func (h *EventHub) StatusChanged(sessionID string, status model.SessionStatus) {
	h.publish(Event{Type: EventStatus, SessionID: sessionID, Status: &status})
}
