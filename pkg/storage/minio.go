// Package storage 提供了与对象存储（MinIO）交互的功能，用于保存会话附件原件。
package storage

import (
	"context"
	"io"
	"path"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/pkg/log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	// 2. 确保存储桶存在
	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	log.Info("MinIO 客户端初始化成功")
}

// ObjectName 返回附件在存储桶中的对象名：{prefix}/{id}/{name}。
func ObjectName(prefix, id, name string) string {
	return path.Join(prefix, id, path.Base("/"+name))
}

// PutObject 上传一个附件对象。
func PutObject(ctx context.Context, bucketName, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := MinioClient.PutObject(ctx, bucketName, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Errorf("上传对象到 MinIO 失败, object: %s, error: %v", objectName, err)
	}
	return err
}

// RemoveObject 删除一个附件对象。
func RemoveObject(ctx context.Context, bucketName, objectName string) error {
	return MinioClient.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{})
}

// GetPresignedURL 为对象生成限时下载链接。
func GetPresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("生成预签名链接失败: %v", err)
		return "", err
	}
	return presignedURL.String(), nil
}

// Bucket 把对象读写绑定到一个存储桶上。
type Bucket struct {
	Name string
}

func (b Bucket) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	return PutObject(ctx, b.Name, objectName, r, size, contentType)
}

func (b Bucket) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return GetPresignedURL(ctx, b.Name, objectName, expiry)
}
