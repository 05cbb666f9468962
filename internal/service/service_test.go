package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"osapio-go/internal/model"
	"osapio-go/pkg/llm"
	"osapio-go/pkg/storage"
	"osapio-go/pkg/tasks"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.UploadRecord{}))
	return db
}

// memTokens 是 TokenRepository 的内存实现。
type memTokens struct {
	mu        sync.Mutex
	blacklist map[string]time.Duration
	attempts  map[string]int64
}

func newMemTokens() *memTokens {
	return &memTokens{blacklist: map[string]time.Duration{}, attempts: map[string]int64{}}
}

func (m *memTokens) Blacklist(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		m.blacklist[token] = ttl
	}
	return nil
}

func (m *memTokens) IsBlacklisted(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blacklist[token]
	return ok, nil
}

func (m *memTokens) IncrAttempts(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[id]++
	return m.attempts[id], nil
}

func (m *memTokens) ResetAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, id)
	return nil
}

// fakeStore 是 ObjectStore 的内存实现。
type fakeStore struct {
	objects map[string]string
	removed []string
	getErr  error
}

func (f *fakeStore) Get(_ context.Context, name string) (io.ReadCloser, storage.ObjectInfo, error) {
	if f.getErr != nil {
		return nil, storage.ObjectInfo{}, f.getErr
	}
	body, ok := f.objects[name]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), storage.ObjectInfo{Size: int64(len(body)), ContentType: "text/plain"}, nil
}

func (f *fakeStore) Remove(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	delete(f.objects, name)
	return nil
}

// fakeIndexer 记录索引调用。
type fakeIndexer struct {
	indexed []model.AnalysisDocument
	deleted []string
	results []model.SearchResult
	query   string
	err     error
}

func (f *fakeIndexer) IndexAnalysis(_ context.Context, doc model.AnalysisDocument) error {
	f.indexed = append(f.indexed, doc)
	return nil
}

func (f *fakeIndexer) DeleteAnalysis(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndexer) SearchAnalyses(_ context.Context, _ uint, query string, _ int) ([]model.SearchResult, error) {
	f.query = query
	return f.results, f.err
}

// fakeLLM 返回固定结果或错误，并记录收到的消息。
type fakeLLM struct {
	result   string
	chunks   []string
	err      error
	calls    int
	messages []llm.Message
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.calls++
	f.messages = messages
	return f.result, f.err
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	f.calls++
	f.messages = messages
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := w.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

type fakeQueue struct {
	tasks []tasks.AnalysisTask
	err   error
}

func (f *fakeQueue) ProduceAnalysisTask(_ context.Context, task tasks.AnalysisTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type recordedOutcome struct{ mode, outcome string }

type fakeRecorder struct {
	outcomes []recordedOutcome
}

func (f *fakeRecorder) RecordAnalysis(mode, outcome string, _ time.Duration) {
	f.outcomes = append(f.outcomes, recordedOutcome{mode, outcome})
}

type chunkWriter struct{ chunks []string }

func (w *chunkWriter) WriteMessage(_ int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

var errBoom = errors.New("boom")
