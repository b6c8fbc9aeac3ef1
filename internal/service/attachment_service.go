package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/internal/repository"
	"prompt-forge-go/pkg/log"
	"prompt-forge-go/pkg/storage"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// 附件类型。
const (
	AttachmentImage = "image"
	AttachmentText  = "text"
	AttachmentFile  = "file"
)

// downloadURLExpiry 是附件下载链接的有效期。
const downloadURLExpiry = time.Hour

var (
	ErrAttachmentTooLarge = errors.New("附件超过大小限制")
	ErrAttachmentEmpty    = errors.New("附件内容为空")
)

// ObjectStore 保存附件原件。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// TextExtractor 从 PDF、Office 等文档中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, contentType string) (string, error)
}

// AttachmentService 把上传的文件转换为可随消息转发的附件描述符。
type AttachmentService interface {
	Upload(ctx context.Context, user *model.User, name string, r io.Reader) (*model.Attachment, error)
	// Resolve 按 id 顺序取回附件描述符，任一 id 无效都会返回错误。
	Resolve(ctx context.Context, user *model.User, ids []string) ([]model.Attachment, error)
	DownloadURL(ctx context.Context, user *model.User, id string) (string, error)
}

type attachmentService struct {
	repo      repository.AttachmentRepository
	store     ObjectStore
	extractor TextExtractor
	prefix    string
	maxSize   int64
}

// NewAttachmentService 创建一个新的 AttachmentService 实例，extractor 可以为 nil。
func NewAttachmentService(repo repository.AttachmentRepository, store ObjectStore, extractor TextExtractor, cfg config.AttachmentConfig) AttachmentService {
	return &attachmentService{
		repo:      repo,
		store:     store,
		extractor: extractor,
		prefix:    cfg.Prefix,
		maxSize:   int64(cfg.MaxSizeMB) << 20,
	}
}

// classify 根据内容判断附件类型：图片以 base64 转发，可读文本以原文转发，其余只转发文件名。
func classify(data []byte) (kind, mimeType string) {
	mt := mimetype.Detect(data)
	mimeType = mt.String()
	if strings.HasPrefix(mimeType, "image/") {
		return AttachmentImage, mimeType
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") && utf8.Valid(data) {
			return AttachmentText, mimeType
		}
	}
	return AttachmentFile, mimeType
}

func (s *attachmentService) Upload(ctx context.Context, user *model.User, name string, r io.Reader) (*model.Attachment, error) {
	// 1. 读取内容并检查大小
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("读取附件失败: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrAttachmentTooLarge
	}
	if len(data) == 0 {
		return nil, ErrAttachmentEmpty
	}

	// 2. 识别类型并生成描述符
	kind, mimeType := classify(data)
	att := model.Attachment{
		ID:       uuid.NewString(),
		Name:     name,
		Type:     kind,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}
	switch kind {
	case AttachmentImage:
		att.Data = base64.StdEncoding.EncodeToString(data)
	case AttachmentText:
		att.Data = string(data)
	case AttachmentFile:
		// 文档能提取出正文时按文本转发，MimeType 保留原始类型
		if text := s.extract(ctx, data, mimeType); text != "" {
			att.Type = AttachmentText
			att.Data = text
		}
	}

	// 3. 原件写入对象存储
	objectName := storage.ObjectName(s.prefix, att.ID, name)
	if err := s.store.Put(ctx, objectName, bytes.NewReader(data), att.Size, mimeType); err != nil {
		return nil, fmt.Errorf("保存附件失败: %w", err)
	}

	// 4. 缓存描述符，等待消息引用
	stored := repository.StoredAttachment{Attachment: att, UserID: user.ID, ObjectName: objectName}
	if err := s.repo.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("缓存附件描述失败: %w", err)
	}
	log.Infof("[AttachmentService] 用户 %d 上传附件 %s (%s, %d 字节)", user.ID, name, mimeType, att.Size)
	return &att, nil
}

func (s *attachmentService) extract(ctx context.Context, data []byte, mimeType string) string {
	if s.extractor == nil {
		return ""
	}
	text, err := s.extractor.ExtractText(ctx, bytes.NewReader(data), mimeType)
	if err != nil {
		log.Warnf("[AttachmentService] 提取文档文本失败, mime: %s, error: %v", mimeType, err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (s *attachmentService) Resolve(ctx context.Context, user *model.User, ids []string) ([]model.Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]model.Attachment, 0, len(ids))
	for _, id := range ids {
		stored, err := s.repo.Get(ctx, user.ID, id)
		if err != nil {
			return nil, fmt.Errorf("附件 %s: %w", id, err)
		}
		out = append(out, stored.Attachment)
	}
	return out, nil
}

func (s *attachmentService) DownloadURL(ctx context.Context, user *model.User, id string) (string, error) {
	stored, err := s.repo.Get(ctx, user.ID, id)
	if err != nil {
		return "", err
	}
	return s.store.PresignedURL(ctx, stored.ObjectName, downloadURLExpiry)
}
