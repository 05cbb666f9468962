// Package pipeline 定义了异步文档分析的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"osapio-go/internal/model"
	"osapio-go/internal/service"
	"osapio-go/pkg/extract"
	"osapio-go/pkg/llm"
	"osapio-go/pkg/log"
	"osapio-go/pkg/metrics"
	"osapio-go/pkg/storage"
	"osapio-go/pkg/tasks"
)

// Processor 封装了从对象存储读取文件、提取文本并调用分析服务的全部依赖。
type Processor struct {
	analysis   service.AnalysisService
	store      service.ObjectStore
	extractors []extract.Extractor
	bucketName string
}

// NewProcessor 创建一个新的 Processor 实例。extractors 按顺序尝试，前一个失败时使用下一个。
func NewProcessor(analysis service.AnalysisService, store service.ObjectStore, bucketName string, extractors ...extract.Extractor) *Processor {
	if len(extractors) == 0 {
		extractors = []extract.Extractor{extract.NewLocal()}
	}
	return &Processor{
		analysis:   analysis,
		store:      store,
		extractors: extractors,
		bucketName: bucketName,
	}
}

// Process 处理一个 Kafka 分析任务。返回错误时消费者会重试。
func (p *Processor) Process(ctx context.Context, task tasks.AnalysisTask) error {
	log.Infof("[Processor] 开始处理分析任务, UploadID: %s, FileName: %s, UserID: %d", task.UploadID, task.FileName, task.UserID)

	// 1. 确认记录仍在等待分析
	record, err := p.analysis.Lookup(ctx, task.UploadID)
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			log.Warnf("[Processor] 记录已被删除, 跳过任务, UploadID: %s", task.UploadID)
			return nil
		}
		return err
	}
	if record.Status != model.StatusProcessing {
		log.Warnf("[Processor] 记录状态为 %s, 跳过任务, UploadID: %s", record.Status, task.UploadID)
		return nil
	}

	// 2. 客户端未提交文本时从对象存储读取并提取
	content := task.Content
	if strings.TrimSpace(content) == "" {
		content, err = p.loadText(ctx, record)
		if err != nil {
			return err
		}
	}

	// 3. 调用分析服务
	_, err = p.analysis.Complete(ctx, record, task.FileName, content, metrics.ModeAsync)
	if errors.Is(err, service.ErrInvalidTransition) {
		log.Warnf("[Processor] 记录已被其他请求完成, UploadID: %s", task.UploadID)
		return nil
	}
	return err
}

// GiveUp 在任务多次失败后把记录标记为 failed。
func (p *Processor) GiveUp(ctx context.Context, task tasks.AnalysisTask, cause error) {
	p.analysis.Fail(ctx, task.UploadID, cause, metrics.ModeAsync)
}

// Stream 读取已存储的文件并把分析结果逐块写入 writer。
func (p *Processor) Stream(ctx context.Context, userID uint, id string, writer llm.MessageWriter) (*model.UploadRecord, error) {
	record, err := p.analysis.Begin(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	content, err := p.loadText(ctx, record)
	if err != nil {
		p.analysis.Fail(context.WithoutCancel(ctx), id, err, metrics.ModeStream)
		return nil, err
	}
	return p.analysis.Stream(ctx, record, content, writer)
}

// loadText 下载对象并提取文本，结果截断到 extract.MaxChars。
func (p *Processor) loadText(ctx context.Context, record *model.UploadRecord) (string, error) {
	objectName, err := storage.ObjectName(record.StorageAddress, p.bucketName)
	if err != nil {
		return "", fmt.Errorf("记录中的对象地址不合法: %w", err)
	}

	rc, _, err := p.store.Get(ctx, objectName)
	if err != nil {
		log.Errorf("[Processor] 从MinIO下载文件失败, Object: %s, Error: %v", objectName, err)
		return "", fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, model.MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("读取MinIO对象流失败: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("文件内容为空")
	}
	log.Infof("[Processor] 文件下载成功, Object: %s, 大小: %d字节", objectName, len(data))

	var lastErr error
	for _, ex := range p.extractors {
		text, err := ex.ExtractText(ctx, bytes.NewReader(data), record.FileName)
		if err != nil {
			log.Warnf("[Processor] 文本提取失败, 尝试下一个提取器, FileName: %s, Error: %v", record.FileName, err)
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) == "" {
			lastErr = errors.New("未能提取到任何文本")
			continue
		}
		return extract.Truncate(text, extract.MaxChars), nil
	}
	return "", fmt.Errorf("提取文本失败: %w", lastErr)
}
