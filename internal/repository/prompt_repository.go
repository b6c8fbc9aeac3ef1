package repository

import (
	"errors"
	"prompt-forge-go/internal/model"

	"gorm.io/gorm"
)

// ErrVersionConflict 表示记录在读取之后已被其他请求更新。
var ErrVersionConflict = errors.New("prompt record was modified concurrently")

// PromptRepository 是提示词库的持久化接口。
type PromptRepository interface {
	Create(rec *model.PromptRecord) error
	// Update 以乐观锁写入：只有数据库中的版本仍等于 rec.Version 时才成功，成功后 rec.Version 加一。
	Update(rec *model.PromptRecord) error
	FindByID(id uint) (*model.PromptRecord, error)
	FindByUser(userID uint, offset, limit int) ([]model.PromptRecord, int64, error)
	Delete(userID, id uint) error
}

type promptRepository struct {
	db *gorm.DB
}

// NewPromptRepository 创建一个新的 PromptRepository 实例。
func NewPromptRepository(db *gorm.DB) PromptRepository {
	return &promptRepository{db: db}
}

func (r *promptRepository) Create(rec *model.PromptRecord) error {
	rec.Version = 1
	return r.db.Create(rec).Error
}

func (r *promptRepository) Update(rec *model.PromptRecord) error {
	res := r.db.Model(&model.PromptRecord{}).
		Where("id = ? AND user_id = ? AND version = ?", rec.ID, rec.UserID, rec.Version).
		Updates(map[string]interface{}{
			"title":              rec.Title,
			"prompt_type":        rec.PromptType,
			"language":           rec.Language,
			"requirement_report": rec.RequirementReport,
			"thinking_points":    rec.ThinkingPointsJSON,
			"initial_prompt":     rec.InitialPrompt,
			"advice":             rec.AdviceJSON,
			"final_prompt":       rec.FinalPromptJSON,
			"history":            rec.HistoryJSON,
			"version":            gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

func (r *promptRepository) FindByID(id uint) (*model.PromptRecord, error) {
	var rec model.PromptRecord
	if err := r.db.First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByUser 分页返回用户的提示词库记录，按更新时间倒序；返回列表、总数和错误。
func (r *promptRepository) FindByUser(userID uint, offset, limit int) ([]model.PromptRecord, int64, error) {
	var recs []model.PromptRecord
	var total int64

	db := r.db.Model(&model.PromptRecord{}).Where("user_id = ?", userID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Omit("history", "thinking_points", "advice").
		Order("updated_at DESC").
		Offset(offset).Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Delete 删除用户自己的记录，记录不存在时返回 gorm.ErrRecordNotFound。
func (r *promptRepository) Delete(userID, id uint) error {
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.PromptRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
