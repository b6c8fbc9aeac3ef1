package service

import (
	"context"
	"errors"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/repository"
	"prompt-forge-go/internal/workflow"
	"prompt-forge-go/pkg/log"
	"prompt-forge-go/pkg/tasks"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = errors.New("提示词记录不存在")
	ErrNothingToSave  = errors.New("尚未生成最终提示词，无法保存")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// IndexPublisher 发布提示词库索引任务。
type IndexPublisher interface {
	Publish(ctx context.Context, task tasks.PromptIndexTask) error
}

// PromptSearcher 在提示词库索引中检索。
type PromptSearcher interface {
	Search(ctx context.Context, userID uint, query string, size int) ([]model.PromptSearchHit, error)
}

// LibraryService 管理提示词库：保存会话成果、浏览、删除与全文检索。
type LibraryService interface {
	// SaveSession 保存会话的产物。会话首次保存时新建记录，之后更新同一条记录并递增版本。
	SaveSession(ctx context.Context, user *model.User, sess *workflow.Session, title string) (*model.PromptRecord, error)
	List(user *model.User, page, size int) ([]model.PromptRecord, int64, error)
	Get(user *model.User, id uint) (*model.PromptRecordDetail, error)
	Delete(ctx context.Context, user *model.User, id uint) error
	Search(ctx context.Context, user *model.User, query string, size int) ([]model.PromptSearchHit, error)
}

type libraryService struct {
	repo      repository.PromptRepository
	publisher IndexPublisher
	searcher  PromptSearcher
}

// NewLibraryService 创建一个新的 LibraryService 实例。
func NewLibraryService(repo repository.PromptRepository, publisher IndexPublisher, searcher PromptSearcher) LibraryService {
	return &libraryService{repo: repo, publisher: publisher, searcher: searcher}
}

func (s *libraryService) SaveSession(ctx context.Context, user *model.User, sess *workflow.Session, title string) (*model.PromptRecord, error) {
	// 1. 读取会话快照
	snap := sess.Snapshot()
	if !snap.Artifacts.Has(model.StageFinal) {
		return nil, ErrNothingToSave
	}
	if title = strings.TrimSpace(title); title == "" {
		title = snap.Title
	}
	if title == "" {
		title = "未命名提示词"
	}

	// 2. 查找已关联的记录，已被删除时重新创建
	var rec *model.PromptRecord
	if snap.LibraryID != 0 {
		existing, err := s.repo.FindByID(snap.LibraryID)
		switch {
		case err == nil && existing.UserID == user.ID:
			rec = existing
		case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
			log.Infof("[LibraryService] 会话 %s 关联的记录 %d 已不存在，重新创建", snap.ID, snap.LibraryID)
		default:
			return nil, err
		}
	}

	// 3. 写入内容
	isNew := rec == nil
	if isNew {
		rec = &model.PromptRecord{UserID: user.ID, SessionID: snap.ID}
	}
	rec.Title = title
	rec.PromptType = string(snap.PromptType)
	rec.Language = string(snap.Language)
	if err := rec.SetContent(snap.Artifacts, sess.ValidTurns()); err != nil {
		return nil, err
	}

	// 4. 持久化
	var err error
	if isNew {
		err = s.repo.Create(rec)
	} else {
		err = s.repo.Update(rec)
	}
	if err != nil {
		log.Errorf("[LibraryService] 保存提示词记录失败, session: %s, error: %v", snap.ID, err)
		return nil, err
	}
	sess.SetLibraryID(rec.ID)

	// 5. 异步索引
	s.publish(ctx, tasks.PromptIndexTask{Action: tasks.ActionUpsert, RecordID: rec.ID, UserID: user.ID, Version: rec.Version})
	log.Infof("[LibraryService] 会话 %s 已保存为记录 %d (v%d)", snap.ID, rec.ID, rec.Version)
	return rec, nil
}

// publish 发送索引任务；失败只影响检索结果，不影响保存本身。
func (s *libraryService) publish(ctx context.Context, task tasks.PromptIndexTask) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Errorf("[LibraryService] 发送索引任务失败, record: %d, error: %v", task.RecordID, err)
	}
}

func (s *libraryService) List(user *model.User, page, size int) ([]model.PromptRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return s.repo.FindByUser(user.ID, (page-1)*size, size)
}

func (s *libraryService) find(user *model.User, id uint) (*model.PromptRecord, error) {
	rec, err := s.repo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.UserID != user.ID {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (s *libraryService) Get(user *model.User, id uint) (*model.PromptRecordDetail, error) {
	rec, err := s.find(user, id)
	if err != nil {
		return nil, err
	}
	artifacts, err := rec.Artifacts()
	if err != nil {
		return nil, err
	}
	history, err := rec.History()
	if err != nil {
		return nil, err
	}
	return &model.PromptRecordDetail{PromptRecord: *rec, Content: artifacts, Turns: history}, nil
}

func (s *libraryService) Delete(ctx context.Context, user *model.User, id uint) error {
	err := s.repo.Delete(user.ID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	s.publish(ctx, tasks.PromptIndexTask{Action: tasks.ActionDelete, RecordID: id, UserID: user.ID})
	return nil
}

func (s *libraryService) Search(ctx context.Context, user *model.User, query string, size int) ([]model.PromptSearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.PromptSearchHit{}, nil
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return s.searcher.Search(ctx, user.ID, query, size)
}
