package service

import (
	"context"
	"errors"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/registry"
	"prompt-forge-go/internal/repository"
	"prompt-forge-go/internal/trigger"
	"prompt-forge-go/internal/workflow"
	"prompt-forge-go/pkg/llm"
	"prompt-forge-go/pkg/log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound 表示会话不存在或不属于当前用户。
var ErrSessionNotFound = errors.New("会话不存在")

// SessionSummary 是会话列表中的一项。
type SessionSummary struct {
	ID             string                  `json:"id"`
	Title          string                  `json:"title"`
	PromptType     model.PromptType        `json:"promptType"`
	Language       model.Language          `json:"language"`
	Selection      model.ProviderSelection `json:"selection"`
	Status         model.SessionStatus     `json:"status"`
	HasFinalPrompt bool                    `json:"hasFinalPrompt"`
	LibraryID      uint                    `json:"libraryId,omitempty"`
	UpdatedAt      model.LocalTime         `json:"updatedAt"`
}

func summarize(snap model.SessionSnapshot) SessionSummary {
	return SessionSummary{
		ID:             snap.ID,
		Title:          snap.Title,
		PromptType:     snap.PromptType,
		Language:       snap.Language,
		Selection:      snap.Selection,
		Status:         snap.Status,
		HasFinalPrompt: snap.Artifacts.Has(model.StageFinal),
		LibraryID:      snap.LibraryID,
		UpdatedAt:      model.LocalTime(snap.UpdatedAt),
	}
}

// SessionService 管理内存中的活动会话，并在进程重启后从快照恢复。
type SessionService interface {
	Create(ctx context.Context, user *model.User, settings workflow.Settings) (*workflow.Session, error)
	Get(ctx context.Context, user *model.User, sessionID string) (*workflow.Session, error)
	List(ctx context.Context, user *model.User) ([]SessionSummary, error)
	Delete(ctx context.Context, user *model.User, sessionID string) error
	// Shutdown 中断所有运行中的活动，用于优雅停机。
	Shutdown()
}

type sessionService struct {
	repo     repository.SessionRepository
	registry *registry.Registry
	client   llm.Client
	hub      *EventHub
	detector *trigger.Detector
	cfg      config.WorkflowConfig

	mu       sync.Mutex
	sessions map[string]*workflow.Session
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(repo repository.SessionRepository, reg *registry.Registry, client llm.Client, hub *EventHub, cfg config.WorkflowConfig) SessionService {
	return &sessionService{
		repo:     repo,
		registry: reg,
		client:   client,
		hub:      hub,
		detector: trigger.NewDetectorFromConfig(cfg.Triggers),
		cfg:      cfg,
		sessions: make(map[string]*workflow.Session),
	}
}

func (s *sessionService) options() workflow.Options {
	return workflow.Options{
		Client:         s.client,
		Resolver:       s.registry,
		Notifier:       s.hub,
		Observer:       s.hub,
		Store:          s.repo,
		Detector:       s.detector,
		AutoStartDelay: s.cfg.AutoStartDelay(),
		Streaming:      s.cfg.Streaming,
	}
}

// defaults 用配置中的默认值补全未指定的设置项。
func (s *sessionService) defaults(st workflow.Settings) workflow.Settings {
	if st.Selection.ProviderID == "" {
		st.Selection = s.registry.DefaultSelection()
	}
	if st.PromptType == "" {
		if pt, err := model.ParsePromptType(s.cfg.DefaultPromptType); err == nil {
			st.PromptType = pt
		}
	}
	if st.Language == "" {
		if lang, err := model.ParseLanguage(s.cfg.DefaultLanguage); err == nil {
			st.Language = lang
		}
	}
	return st
}

func (s *sessionService) Create(ctx context.Context, user *model.User, settings workflow.Settings) (*workflow.Session, error) {
	sess := workflow.NewSession(uuid.NewString(), user.ID, s.defaults(settings), s.options())
	if err := s.repo.SaveSnapshot(ctx, sess.Snapshot()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	log.Infof("[SessionService] 用户 %d 创建会话 %s", user.ID, sess.ID())
	return sess, nil
}

// Get 优先返回内存中的会话，否则从快照恢复。
func (s *sessionService) Get(ctx context.Context, user *model.User, sessionID string) (*workflow.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if ok {
		if sess.UserID() != user.ID {
			return nil, ErrSessionNotFound
		}
		return sess, nil
	}

	snap, err := s.repo.GetSnapshot(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if snap.UserID != user.ID {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 并发恢复时以先放入的为准
	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}
	sess = workflow.RestoreSession(*snap, s.options())
	s.sessions[sessionID] = sess
	log.Infof("[SessionService] 从快照恢复会话 %s", sessionID)
	return sess, nil
}

// List 返回用户的会话，内存中的会话以实时状态覆盖快照。
func (s *sessionService) List(ctx context.Context, user *model.User) ([]SessionSummary, error) {
	snaps, err := s.repo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	live := make(map[string]*workflow.Session, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.UserID() == user.ID {
			live[id] = sess
		}
	}
	s.mu.Unlock()

	out := make([]SessionSummary, 0, len(snaps)+len(live))
	for _, snap := range snaps {
		if sess, ok := live[snap.ID]; ok {
			snap = sess.Snapshot()
			delete(live, snap.ID)
		}
		out = append(out, summarize(snap))
	}
	for _, sess := range live {
		out = append(out, summarize(sess.Snapshot()))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return time.Time(out[i].UpdatedAt).After(time.Time(out[j].UpdatedAt))
	})
	return out, nil
}

func (s *sessionService) Delete(ctx context.Context, user *model.User, sessionID string) error {
	sess, err := s.Get(ctx, user, sessionID)
	if err != nil {
		return err
	}
	sess.Interrupt()

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	return s.repo.Delete(ctx, user.ID, sessionID)
}

func (s *sessionService) Shutdown() {
	s.mu.Lock()
	all := make([]*workflow.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		if sess.Busy() {
			sess.Interrupt()
		}
	}
}
