package repository

import (
	"context"
	"prompt-forge-go/internal/model"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

// 以下是各仓储接口的内存实现，语义与 MySQL/Redis 实现一致（不存在时返回相同的错误），用于测试。

// MemorySessionRepository 是 SessionRepository 的内存实现。
type MemorySessionRepository struct {
	mu    sync.Mutex
	snaps map[string]model.SessionSnapshot
	saves int
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{snaps: make(map[string]model.SessionSnapshot)}
}

func (r *MemorySessionRepository) SaveSnapshot(_ context.Context, snap model.SessionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[snap.ID] = snap
	r.saves++
	return nil
}

func (r *MemorySessionRepository) GetSnapshot(_ context.Context, sessionID string) (*model.SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snaps[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &snap, nil
}

func (r *MemorySessionRepository) ListByUser(_ context.Context, userID uint) ([]model.SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.SessionSnapshot{}
	for _, snap := range r.snaps {
		if snap.UserID == userID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, userID uint, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snap, ok := r.snaps[sessionID]; ok && snap.UserID == userID {
		delete(r.snaps, sessionID)
	}
	return nil
}

// Saves 返回 SaveSnapshot 被调用的次数。
func (r *MemorySessionRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// MemoryPromptRepository 是 PromptRepository 的内存实现。
type MemoryPromptRepository struct {
	mu     sync.Mutex
	nextID uint
	recs   map[uint]model.PromptRecord
}

func NewMemoryPromptRepository() *MemoryPromptRepository {
	return &MemoryPromptRepository{recs: make(map[uint]model.PromptRecord)}
}

func (r *MemoryPromptRepository) Create(rec *model.PromptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now()
	rec.ID = r.nextID
	rec.Version = 1
	rec.CreatedAt, rec.UpdatedAt = now, now
	r.recs[rec.ID] = *rec
	return nil
}

func (r *MemoryPromptRepository) Update(rec *model.PromptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.recs[rec.ID]
	if !ok || cur.UserID != rec.UserID || cur.Version != rec.Version {
		return ErrVersionConflict
	}
	rec.Version++
	rec.CreatedAt = cur.CreatedAt
	rec.UpdatedAt = time.Now()
	r.recs[rec.ID] = *rec
	return nil
}

func (r *MemoryPromptRepository) FindByID(id uint) (*model.PromptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &rec, nil
}

func (r *MemoryPromptRepository) FindByUser(userID uint, offset, limit int) ([]model.PromptRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.PromptRecord
	for _, rec := range r.recs {
		if rec.UserID == userID {
			all = append(all, rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	if offset >= len(all) {
		return []model.PromptRecord{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *MemoryPromptRepository) Delete(userID, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok || rec.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(r.recs, id)
	return nil
}

// MemoryAttachmentRepository 是 AttachmentRepository 的内存实现。
type MemoryAttachmentRepository struct {
	mu   sync.Mutex
	atts map[string]StoredAttachment
}

func NewMemoryAttachmentRepository() *MemoryAttachmentRepository {
	return &MemoryAttachmentRepository{atts: make(map[string]StoredAttachment)}
}

func (r *MemoryAttachmentRepository) Save(_ context.Context, att StoredAttachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.atts[att.ID] = att
	return nil
}

func (r *MemoryAttachmentRepository) Get(_ context.Context, userID uint, id string) (*StoredAttachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.atts[id]
	if !ok || att.UserID != userID {
		return nil, ErrAttachmentNotFound
	}
	return &att, nil
}

// MemoryTokenRepository 是 TokenRepository 的内存实现，不处理过期。
type MemoryTokenRepository struct {
	mu      sync.Mutex
	revoked map[string]struct{}
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{revoked: make(map[string]struct{})}
}

func (r *MemoryTokenRepository) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[tokenID] = struct{}{}
	return nil
}

func (r *MemoryTokenRepository) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[tokenID]
	return ok, nil
}

// MemoryUserRepository 是 UserRepository 的内存实现。
type MemoryUserRepository struct {
	mu     sync.Mutex
	nextID uint
	users  map[string]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]model.User)}
}

func (r *MemoryUserRepository) Create(user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	r.users[user.Username] = *user
	return nil
}

func (r *MemoryUserRepository) FindByUsername(username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) FindByID(userID uint) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == userID {
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
