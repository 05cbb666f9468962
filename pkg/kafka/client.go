// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"osapio-go/internal/config"
	"osapio-go/pkg/log"
	"osapio-go/pkg/tasks"
)

// MaxAttempts 是单个任务的最大处理次数，达到后提交 offset 放弃重试。
const MaxAttempts = 3

// TaskProcessor 定义了处理分析任务的接口，使消费者与具体流水线解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.AnalysisTask) error
	// GiveUp 在任务达到最大重试次数后调用一次。
	GiveUp(ctx context.Context, task tasks.AnalysisTask, cause error)
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	IncrAttempts(ctx context.Context, taskID string) (int64, error)
	ResetAttempts(ctx context.Context, taskID string) error
}

// Producer 负责发送分析任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// ProduceAnalysisTask 发送一个分析任务到 Kafka，以记录 ID 作为消息 key 保证同一记录有序。
func (p *Producer) ProduceAnalysisTask(ctx context.Context, task tasks.AnalysisTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.UploadID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是消费循环依赖的最小读取接口，*kafka.Reader 满足它。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理分析任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, processor, counter)
}

func consume(ctx context.Context, r messageReader, processor TaskProcessor, counter AttemptCounter) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者已停止")
			} else {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}
		handleMessage(ctx, r, m, processor, counter)
	}
}

func handleMessage(ctx context.Context, r messageReader, m kafka.Message, processor TaskProcessor, counter AttemptCounter) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.AnalysisTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		commit(ctx, r, m)
		return
	}

	log.Infof("开始处理分析任务: UploadID=%s, FileName=%s", task.UploadID, task.FileName)
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("分析任务处理成功: UploadID=%s", task.UploadID)
			_ = counter.ResetAttempts(ctx, task.UploadID)
			commit(ctx, r, m)
			return
		}
		log.Errorf("处理分析任务失败: UploadID=%s, Error: %v", task.UploadID, err)

		// 失败次数记录在 Redis 中，进程重启后重投的消息也会累计
		attempts, ok := incrAttempts(ctx, counter, task.UploadID)
		if !ok {
			// 只有 ctx 取消才会走到这里，offset 未提交，重启后从这条消息继续
			return
		}
		if attempts >= MaxAttempts {
			log.Errorf("分析任务多次失败(>=%d)，提交 offset 终止重试: UploadID=%s", MaxAttempts, task.UploadID)
			processor.GiveUp(ctx, task, err)
			_ = counter.ResetAttempts(ctx, task.UploadID)
			commit(ctx, r, m)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// counterBackoff 是 Redis 计数失败后的初始等待时间，上限为 maxCounterBackoff。
var (
	counterBackoff    = time.Second
	maxCounterBackoff = 30 * time.Second
)

// incrAttempts 在 Redis 恢复前阻塞当前分区的消费，不跳过消息也不提交 offset。
// 返回 false 表示 ctx 已取消。
func incrAttempts(ctx context.Context, counter AttemptCounter, taskID string) (int64, bool) {
	wait := counterBackoff
	for {
		attempts, err := counter.IncrAttempts(ctx, taskID)
		if err == nil {
			return attempts, true
		}
		log.Errorf("记录任务失败次数失败，%s 后重试: UploadID=%s, Error: %v", wait, taskID, err)
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxCounterBackoff {
			wait = maxCounterBackoff
		}
	}
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// AttemptsKey 返回 Redis 中记录任务失败次数的 key。
func AttemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}
