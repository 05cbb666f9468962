package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"osapio-go/internal/model"
	"osapio-go/internal/repository"
	"osapio-go/pkg/extract"
	"osapio-go/pkg/llm"
	"osapio-go/pkg/log"
	"osapio-go/pkg/metrics"
	"osapio-go/pkg/tasks"
)

// AnalyzeInput 是触发分析的请求体。
type AnalyzeInput struct {
	FileContent string `json:"file_content"`
	FileName    string `json:"filename"`
}

// TaskQueue 抽象了异步分析任务队列，*kafka.Producer 满足它。
type TaskQueue interface {
	ProduceAnalysisTask(ctx context.Context, task tasks.AnalysisTask) error
}

// AnalysisRecorder 记录分析结果指标，*metrics.Metrics 满足它。
type AnalysisRecorder interface {
	RecordAnalysis(mode, outcome string, duration time.Duration)
}

// AnalysisService 负责记录状态推进与语言模型调用。
type AnalysisService interface {
	// Analyze 同步分析：pending → processing → completed，失败时记录为 failed。
	Analyze(ctx context.Context, userID uint, id string, in AnalyzeInput) (*model.UploadRecord, error)
	// Enqueue 将记录标记为 processing 并投递到任务队列。
	Enqueue(ctx context.Context, userID uint, id string, in AnalyzeInput) (*model.UploadRecord, error)
	// Begin 把属于 userID 的 pending 记录推进到 processing。
	Begin(ctx context.Context, userID uint, id string) (*model.UploadRecord, error)
	// Lookup 按 ID 读取记录，不检查归属，供后台任务使用。
	Lookup(ctx context.Context, id string) (*model.UploadRecord, error)
	// Complete 对 processing 记录调用模型并保存结果；失败时不修改记录，由调用方决定是否重试。
	Complete(ctx context.Context, record *model.UploadRecord, fileName, content, mode string) (*model.UploadRecord, error)
	// Stream 与 Complete 相同，但把模型输出逐块写入 writer；失败时记录为 failed。
	Stream(ctx context.Context, record *model.UploadRecord, content string, writer llm.MessageWriter) (*model.UploadRecord, error)
	// Fail 把 processing 记录标记为 failed。
	Fail(ctx context.Context, id string, cause error, mode string)
}

type analysisService struct {
	uploadRepo repository.UploadRepository
	llmClient  llm.Client
	queue      TaskQueue
	indexer    AnalysisIndexer
	recorder   AnalysisRecorder
	maxChars   int
}

// NewAnalysisService 创建一个新的 AnalysisService 实例。queue、indexer、recorder 均可为 nil。
func NewAnalysisService(uploadRepo repository.UploadRepository, llmClient llm.Client, queue TaskQueue, indexer AnalysisIndexer, recorder AnalysisRecorder, maxChars int) AnalysisService {
	if maxChars <= 0 {
		maxChars = extract.MaxChars
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &analysisService{
		uploadRepo: uploadRepo,
		llmClient:  llmClient,
		queue:      queue,
		indexer:    indexer,
		recorder:   recorder,
		maxChars:   maxChars,
	}
}

func (s *analysisService) Analyze(ctx context.Context, userID uint, id string, in AnalyzeInput) (*model.UploadRecord, error) {
	if strings.TrimSpace(in.FileContent) == "" {
		return nil, fmt.Errorf("%w: file_content 不能为空", ErrInvalidInput)
	}
	record, err := s.Begin(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.Complete(ctx, record, in.FileName, in.FileContent, metrics.ModeSync)
	if err != nil {
		// 同步调用没有重试，直接落为 failed
		s.Fail(context.WithoutCancel(ctx), id, err, metrics.ModeSync)
		return nil, err
	}
	return updated, nil
}

func (s *analysisService) Enqueue(ctx context.Context, userID uint, id string, in AnalyzeInput) (*model.UploadRecord, error) {
	if s.queue == nil {
		return nil, ErrQueueDisabled
	}
	record, err := s.Begin(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	task := tasks.AnalysisTask{
		UploadID:   record.ID,
		UserID:     record.OwnerID,
		FileName:   pickFileName(in.FileName, record.FileName),
		ObjectName: record.StorageAddress,
		Content:    extract.Truncate(in.FileContent, s.maxChars),
	}
	if err := s.queue.ProduceAnalysisTask(ctx, task); err != nil {
		log.Errorf("[AnalysisService] 投递分析任务失败, id: %s, error: %v", id, err)
		s.Fail(context.WithoutCancel(ctx), id, fmt.Errorf("投递分析任务失败: %w", err), metrics.ModeAsync)
		return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	log.Infof("[AnalysisService] 分析任务已投递, id: %s", id)
	return record, nil
}

func (s *analysisService) Begin(ctx context.Context, userID uint, id string) (*model.UploadRecord, error) {
	record, err := findOwned(ctx, s.uploadRepo, userID, id)
	if err != nil {
		return nil, err
	}
	if !record.Status.CanTransitionTo(model.StatusProcessing) {
		return nil, ErrInvalidTransition
	}
	ok, err := s.uploadRepo.Transition(ctx, id, record.Status, model.StatusProcessing, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 并发请求已抢先推进了状态
		return nil, ErrInvalidTransition
	}
	record.Status = model.StatusProcessing
	return record, nil
}

func (s *analysisService) Lookup(ctx context.Context, id string) (*model.UploadRecord, error) {
	record, err := s.uploadRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *analysisService) Complete(ctx context.Context, record *model.UploadRecord, fileName, content, mode string) (*model.UploadRecord, error) {
	fileName = pickFileName(fileName, record.FileName)
	messages := llm.BuildAnalysisMessages(fileName, extract.Truncate(content, s.maxChars))

	start := time.Now()
	result, err := s.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		return nil, s.classify(record.ID, mode, time.Since(start), err)
	}
	s.recorder.RecordAnalysis(mode, metrics.OutcomeCompleted, time.Since(start))
	return s.finish(ctx, record, result)
}

func (s *analysisService) Stream(ctx context.Context, record *model.UploadRecord, content string, writer llm.MessageWriter) (*model.UploadRecord, error) {
	messages := llm.BuildAnalysisMessages(record.FileName, extract.Truncate(content, s.maxChars))
	capture := &capturingWriter{next: writer}

	start := time.Now()
	err := s.llmClient.StreamChatMessages(ctx, messages, nil, capture)
	if err == nil && strings.TrimSpace(capture.String()) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		err = s.classify(record.ID, metrics.ModeStream, time.Since(start), err)
		s.Fail(context.WithoutCancel(ctx), record.ID, err, metrics.ModeStream)
		return nil, err
	}
	s.recorder.RecordAnalysis(metrics.ModeStream, metrics.OutcomeCompleted, time.Since(start))
	return s.finish(ctx, record, capture.String())
}

func (s *analysisService) Fail(ctx context.Context, id string, cause error, mode string) {
	msg := "analysis failed"
	if cause != nil {
		msg = cause.Error()
	}
	ok, err := s.uploadRepo.Transition(ctx, id, model.StatusProcessing, model.StatusFailed,
		map[string]interface{}{"error_message": msg})
	if err != nil {
		log.Errorf("[AnalysisService] 标记记录失败状态出错, id: %s, error: %v", id, err)
		return
	}
	if ok {
		log.Warnf("[AnalysisService] 记录已标记为 failed, id: %s, mode: %s, cause: %s", id, mode, msg)
	}
}

// classify 把模型错误归为熔断不可用或分析失败，并记录指标。
func (s *analysisService) classify(id, mode string, elapsed time.Duration, err error) error {
	if llm.IsCircuitOpen(err) {
		s.recorder.RecordAnalysis(mode, metrics.OutcomeUnavailable, 0)
		log.Warnf("[AnalysisService] LLM 熔断中, id: %s", id)
		return fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	s.recorder.RecordAnalysis(mode, metrics.OutcomeFailed, elapsed)
	log.Errorf("[AnalysisService] 调用 LLM 失败, id: %s, mode: %s, error: %v", id, mode, err)
	return fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
}

// finish 写入分析结果并推进到 completed，结果只会被写入一次。
func (s *analysisService) finish(ctx context.Context, record *model.UploadRecord, result string) (*model.UploadRecord, error) {
	ok, err := s.uploadRepo.Transition(ctx, record.ID, model.StatusProcessing, model.StatusCompleted,
		map[string]interface{}{"analysis_result": result, "error_message": ""})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	record.Status = model.StatusCompleted
	record.AnalysisResult = result
	record.ErrorMessage = ""
	log.Infof("[AnalysisService] 分析完成, id: %s, 结果长度: %d", record.ID, len(result))

	if s.indexer != nil {
		doc := model.AnalysisDocument{
			UploadID:       record.ID,
			UserID:         record.OwnerID,
			FileName:       record.FileName,
			ContentType:    record.ContentType,
			AnalysisResult: result,
			CreatedAt:      record.CreatedAt,
		}
		if err := s.indexer.IndexAnalysis(ctx, doc); err != nil {
			log.Warnf("[AnalysisService] 写入检索索引失败, id: %s, error: %v", record.ID, err)
		}
	}
	return record, nil
}

func pickFileName(preferred, fallback string) string {
	if p := strings.TrimSpace(preferred); p != "" {
		return p
	}
	return fallback
}

// capturingWriter 在转发分块的同时累积完整输出。
type capturingWriter struct {
	next llm.MessageWriter
	mu   sync.Mutex
	buf  strings.Builder
}

func (w *capturingWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	w.buf.Write(data)
	w.mu.Unlock()
	return w.next.WriteMessage(messageType, data)
}

func (w *capturingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

type noopRecorder struct{}

func (noopRecorder) RecordAnalysis(string, string, time.Duration) {}
