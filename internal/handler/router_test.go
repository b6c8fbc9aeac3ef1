package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/internal/middleware"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/registry"
	"prompt-forge-go/internal/repository"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/pkg/llm"
	"prompt-forge-go/pkg/token"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSearcher struct{}

func (noopSearcher) Search(context.Context, uint, string, int) ([]model.PromptSearchHit, error) {
	return []model.PromptSearchHit{}, nil
}

type discardStore struct{}

func (discardStore) Put(_ context.Context, _ string, r io.Reader, _ int64, _ string) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func (discardStore) PresignedURL(_ context.Context, objectName string, _ time.Duration) (string, error) {
	return "https://files.local/" + objectName, nil
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	reg := registry.New([]config.ProviderConfig{
		{ID: "local", Name: "Mock", Type: llm.TypeMock, Models: []config.ModelConfig{{ID: "echo"}}},
	}, config.LLMConfig{DefaultProvider: "local", DefaultModel: "echo"})
	jwtManager := token.NewJWTManager("test-secret", 1, 7)
	hub := service.NewEventHub()

	userService := service.NewUserService(repository.NewMemoryUserRepository(), repository.NewMemoryTokenRepository(), jwtManager)
	sessionService := service.NewSessionService(repository.NewMemorySessionRepository(), reg, llm.NewClient(config.LLMConfig{}), hub,
		config.WorkflowConfig{Streaming: true, DefaultLanguage: "zh", DefaultPromptType: "system"})
	libraryService := service.NewLibraryService(repository.NewMemoryPromptRepository(), nil, noopSearcher{})
	attachmentService := service.NewAttachmentService(repository.NewMemoryAttachmentRepository(), discardStore{}, nil, config.AttachmentConfig{MaxSizeMB: 1, Prefix: "attachments"})

	r := gin.New()
	RegisterRoutes(r, Handlers{
		User:       NewUserHandler(userService),
		Auth:       NewAuthHandler(userService),
		Provider:   NewProviderHandler(reg),
		Session:    NewSessionHandler(sessionService, attachmentService, libraryService, reg),
		Library:    NewLibraryHandler(libraryService),
		Attachment: NewAttachmentHandler(attachmentService),
		Socket:     NewSocketHandler(sessionService, userService, hub, jwtManager),
	}, middleware.AuthMiddleware(userService))
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, r http.Handler, method, path, bearer string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func login(t *testing.T, r http.Handler, username string) string {
	t.Helper()
	code, _ := call(t, r, http.MethodPost, "/api/v1/users/register", "", gin.H{"username": username, "password": "secret1"})
	require.Equal(t, http.StatusOK, code)

	code, env := call(t, r, http.MethodPost, "/api/v1/users/login", "", gin.H{"username": username, "password": "secret1"})
	require.Equal(t, http.StatusOK, code)
	var tokens struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tokens))
	return tokens.Token
}

func createSession(t *testing.T, r http.Handler, bearer string) model.SessionSnapshot {
	t.Helper()
	code, env := call(t, r, http.MethodPost, "/api/v1/sessions", bearer, nil)
	require.Equal(t, http.StatusOK, code)
	var snap model.SessionSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}

func TestRoutesRequireToken(t *testing.T) {
	r := newTestRouter()

	code, _ := call(t, r, http.MethodGet, "/api/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = call(t, r, http.MethodGet, "/api/v1/sessions", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	bearer := login(t, r, "alice")
	code, _ = call(t, r, http.MethodPost, "/api/v1/users/logout", bearer, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, r, http.MethodGet, "/api/v1/users/me", bearer, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRegisterDuplicateIsConflict(t *testing.T) {
	r := newTestRouter()
	login(t, r, "alice")

	code, _ := call(t, r, http.MethodPost, "/api/v1/users/register", "", gin.H{"username": "alice", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestProvidersHideCredentials(t *testing.T) {
	r := newTestRouter()
	bearer := login(t, r, "alice")

	code, env := call(t, r, http.MethodGet, "/api/v1/providers", bearer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"providerId":"local"`)
	assert.NotContains(t, string(env.Data), "apiKey")
}

func TestSessionSettingsValidation(t *testing.T) {
	r := newTestRouter()
	bearer := login(t, r, "alice")
	snap := createSession(t, r, bearer)

	code, _ := call(t, r, http.MethodPut, "/api/v1/sessions/"+snap.ID+"/settings", bearer, gin.H{"providerId": "local", "modelId": "gpt-4o"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = call(t, r, http.MethodPut, "/api/v1/sessions/"+snap.ID+"/settings", bearer, gin.H{"language": "fr"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := call(t, r, http.MethodPut, "/api/v1/sessions/"+snap.ID+"/settings", bearer, gin.H{"language": "en", "promptType": "user"})
	require.Equal(t, http.StatusOK, code)
	var updated model.SessionSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, model.LanguageEN, updated.Language)
	assert.Equal(t, model.PromptTypeUser, updated.PromptType)
}

func TestSessionsAreScopedToOwner(t *testing.T) {
	r := newTestRouter()
	alice := login(t, r, "alice")
	bob := login(t, r, "bob")
	snap := createSession(t, r, alice)

	code, _ := call(t, r, http.MethodGet, "/api/v1/sessions/"+snap.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = call(t, r, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/messages", bob, gin.H{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestChatWorkflowAndLibrary(t *testing.T) {
	r := newTestRouter()
	bearer := login(t, r, "alice")
	snap := createSession(t, r, bearer)
	base := "/api/v1/sessions/" + snap.ID

	// 空消息被拒绝
	code, env := call(t, r, http.MethodPost, base+"/messages", bearer, gin.H{"content": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, code, env.Message)

	// 还没有最终提示词时不能保存
	code, _ = call(t, r, http.MethodPost, base+"/library", bearer, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, env = call(t, r, http.MethodPost, base+"/messages?wait=true", bearer, gin.H{"content": "写一个翻译助手"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var result struct {
		Kind    string                `json:"kind"`
		Session model.SessionSnapshot `json:"session"`
		Error   string                `json:"error"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Empty(t, result.Error)
	require.Len(t, result.Session.Turns, 2)
	assert.Equal(t, model.RoleAssistant, result.Session.Turns[1].Role)

	code, env = call(t, r, http.MethodPost, base+"/workflow?wait=true", bearer, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	result.Error = ""
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Empty(t, result.Error)
	for _, st := range model.Stages() {
		assert.True(t, result.Session.Artifacts.Has(st), st)
	}
	assert.True(t, result.Session.Status.Idle())

	code, env = call(t, r, http.MethodPost, base+"/final-prompt/format", bearer, gin.H{"format": "markdown"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"format":"markdown"`)

	code, env = call(t, r, http.MethodPost, base+"/final-prompt/format", bearer, gin.H{"format": "xml", "language": "zh"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"format":"xml"`)

	// 英文版本还没有翻译
	code, _ = call(t, r, http.MethodPost, base+"/final-prompt/format", bearer, gin.H{"format": "markdown", "language": "en"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = call(t, r, http.MethodPost, base+"/final-prompt/format", bearer, gin.H{"format": "yaml"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, r, http.MethodPost, base+"/library", bearer, gin.H{"title": "翻译助手"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var rec model.PromptRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, 1, rec.Version)

	code, env = call(t, r, http.MethodGet, "/api/v1/library", bearer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":1`)

	code, _ = call(t, r, http.MethodPost, base+"/interrupt", bearer, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStartStageRejectsUnknownStage(t *testing.T) {
	r := newTestRouter()
	bearer := login(t, r, "alice")
	snap := createSession(t, r, bearer)

	code, _ := call(t, r, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/stages/none", bearer, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// 没有上游产物时不能单独运行后续阶段
	code, _ = call(t, r, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/stages/final", bearer, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestSocketPushesSnapshotAndAnswersPing(t *testing.T) {
	r := newTestRouter()
	bearer := login(t, r, "alice")
	snap := createSession(t, r, bearer)

	code, env := call(t, r, http.MethodGet, "/api/v1/chat/websocket-token", bearer, nil)
	require.Equal(t, http.StatusOK, code)
	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tok))

	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + snap.ID + "/"

	// access token 不能用于建立连接
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+bearer, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+tok.Token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first["type"])
	assert.Equal(t, snap.ID, first["sessionId"])

	require.NoError(t, conn.WriteJSON(gin.H{"type": "ping"}))
	var pong map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, conn.WriteJSON(gin.H{"type": "stop"}))
	var stop map[string]interface{}
	require.NoError(t, conn.ReadJSON(&stop))
	// stop 会触发一次 status 事件，回执与事件的先后不固定
	for stop["type"] != "stop" {
		stop = nil
		require.NoError(t, conn.ReadJSON(&stop))
	}
	assert.Equal(t, false, stop["interrupted"])
}
