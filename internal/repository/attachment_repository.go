package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"prompt-forge-go/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

// attachmentTTL 是附件描述符的缓存时间；发送消息时附件已被复制进发言记录。
const attachmentTTL = 24 * time.Hour

// ErrAttachmentNotFound 表示附件不存在、已过期或不属于当前用户。
var ErrAttachmentNotFound = errors.New("attachment not found")

// StoredAttachment 是缓存中的附件描述符及其归属信息。
type StoredAttachment struct {
	model.Attachment
	UserID     uint   `json:"userId"`
	ObjectName string `json:"objectName"`
}

// AttachmentRepository 缓存上传后的附件描述符，直到它们被某条消息引用。
type AttachmentRepository interface {
	Save(ctx context.Context, att StoredAttachment) error
	Get(ctx context.Context, userID uint, id string) (*StoredAttachment, error)
}

type redisAttachmentRepository struct {
	redisClient *redis.Client
}

// NewAttachmentRepository 创建一个新的 AttachmentRepository 实例。
func NewAttachmentRepository(redisClient *redis.Client) AttachmentRepository {
	return &redisAttachmentRepository{redisClient: redisClient}
}

func attachmentKey(id string) string {
	return fmt.Sprintf("attachment:%s", id)
}

func (r *redisAttachmentRepository) Save(ctx context.Context, att StoredAttachment) error {
	data, err := json.Marshal(att)
	if err != nil {
		return err
	}
	return r.redisClient.Set(ctx, attachmentKey(att.ID), data, attachmentTTL).Err()
}

func (r *redisAttachmentRepository) Get(ctx context.Context, userID uint, id string) (*StoredAttachment, error) {
	data, err := r.redisClient.Get(ctx, attachmentKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	var att StoredAttachment
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attachment: %w", err)
	}
	if att.UserID != userID {
		return nil, ErrAttachmentNotFound
	}
	return &att, nil
}
