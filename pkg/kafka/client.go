// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/pkg/log"
	"prompt-forge-go/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务的最大处理次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor 处理一条提示词库索引任务，使消费者与具体的索引实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.PromptIndexTask) error
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 向提示词库主题发送索引任务。
type Producer struct {
	w messageWriter
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{w: w}
}

// Publish 发送一条索引任务，以记录 id 作为消息键。
func (p *Producer) Publish(ctx context.Context, task tasks.PromptIndexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Key()),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.w.Close()
}

// RedisAttempts 是基于 Redis INCR 的失败计数器，计数 24 小时后过期。
type RedisAttempts struct {
	RDB *redis.Client
}

func (a RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.RDB.Incr(ctx, key).Result()
	if err == nil {
		_ = a.RDB.Expire(ctx, key, 24*time.Hour).Err()
	}
	return n, err
}

func (a RedisAttempts) Reset(ctx context.Context, key string) {
	_ = a.RDB.Del(ctx, key).Err()
}

// Consumer 消费索引任务并交给 TaskProcessor 处理。
type Consumer struct {
	r          messageReader
	processor  TaskProcessor
	attempts   AttemptCounter
	retryDelay time.Duration
}

// NewConsumer 创建一个加入消费组的 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{r: r, processor: processor, attempts: attempts, retryDelay: time.Second}
}

// Run 循环拉取消息直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动")
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		for !c.handle(ctx, m) {
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
				continue
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
	if err := c.r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
	log.Info("Kafka 消费者已退出")
}

// handle 处理单条消息，返回是否应提交 offset；返回 false 时 Run 会延迟后重试同一条消息。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	log.Debugf("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.PromptIndexTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		// 格式错误的消息直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	key := task.AttemptKey()
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理索引任务失败: action=%s record=%d, error: %v", task.Action, task.RecordID, err)
		attempts, incErr := c.attempts.Incr(ctx, key)
		if incErr != nil {
			// 计数不可用时不提交，让 Kafka 重投
			return false
		}
		if attempts >= maxAttempts {
			log.Errorf("索引任务多次失败(>=%d)，放弃重试: record=%d", maxAttempts, task.RecordID)
			c.attempts.Reset(ctx, key)
			return true
		}
		return false
	}

	log.Infof("索引任务处理成功: action=%s record=%d version=%d", task.Action, task.RecordID, task.Version)
	c.attempts.Reset(ctx, key)
	return true
}
