package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osapio-go/pkg/tasks"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(f.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fakeProcessor struct {
	failures int
	calls    int
	gaveUp   []string
}

func (p *fakeProcessor) GiveUp(ctx context.Context, task tasks.AnalysisTask, cause error) {
	p.gaveUp = append(p.gaveUp, task.UploadID)
}

func (p *fakeProcessor) Process(ctx context.Context, task tasks.AnalysisTask) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("llm down")
	}
	return nil
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
	// failures 次调用返回 err，之后恢复正常；为 0 时一直返回 err
	failures int
	calls    int
}

func (c *memCounter) IncrAttempts(ctx context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil && (c.failures == 0 || c.calls <= c.failures) {
		return 0, c.err
	}
	c.counts[id]++
	return c.counts[id], nil
}

func (c *memCounter) ResetAttempts(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, id)
	return nil
}

func taskMessage(t *testing.T, offset int64, id string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(tasks.AnalysisTask{UploadID: id, FileName: "a.txt"})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumeCommitsOnSuccess(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{taskMessage(t, 1, "u1")}}
	p := &fakeProcessor{}
	c := &memCounter{counts: map[string]int64{}}

	consume(context.Background(), r, p, c)

	assert.Equal(t, []int64{1}, r.committed)
	assert.Equal(t, 1, p.calls)
	assert.True(t, r.closed)
}

func TestConsumeRetriesThenSucceeds(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{taskMessage(t, 5, "u1")}}
	p := &fakeProcessor{failures: 2}
	c := &memCounter{counts: map[string]int64{}}

	consume(context.Background(), r, p, c)

	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []int64{5}, r.committed)
	assert.Empty(t, c.counts)
	assert.Empty(t, p.gaveUp)
}

func TestConsumeGivesUpAfterMaxAttempts(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{taskMessage(t, 9, "u2")}}
	p := &fakeProcessor{failures: 100}
	c := &memCounter{counts: map[string]int64{}}

	consume(context.Background(), r, p, c)

	assert.Equal(t, MaxAttempts, p.calls)
	assert.Equal(t, []int64{9}, r.committed)
	assert.Equal(t, []string{"u2"}, p.gaveUp)
}

func TestConsumeSkipsMalformedMessage(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{{Offset: 3, Value: []byte("{not json")}}}
	p := &fakeProcessor{}
	c := &memCounter{counts: map[string]int64{}}

	consume(context.Background(), r, p, c)

	assert.Equal(t, 0, p.calls)
	assert.Equal(t, []int64{3}, r.committed)
}

func shortBackoff(t *testing.T) {
	t.Helper()
	prev, prevMax := counterBackoff, maxCounterBackoff
	counterBackoff, maxCounterBackoff = time.Millisecond, 4*time.Millisecond
	t.Cleanup(func() { counterBackoff, maxCounterBackoff = prev, prevMax })
}

func TestConsumeWaitsForCounterBeforeNextMessage(t *testing.T) {
	shortBackoff(t)
	r := &fakeReader{msgs: []kafka.Message{taskMessage(t, 4, "u3"), taskMessage(t, 5, "u4")}}
	p := &fakeProcessor{failures: 1}
	c := &memCounter{counts: map[string]int64{}, err: errors.New("redis down"), failures: 3}

	consume(context.Background(), r, p, c)

	// u3 第一次失败后等 Redis 恢复再重试，随后才处理 u4
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []int64{4, 5}, r.committed)
	assert.Empty(t, p.gaveUp)
}

func TestConsumeStopsWithoutCommitWhenCounterStaysDown(t *testing.T) {
	shortBackoff(t)
	r := &fakeReader{msgs: []kafka.Message{taskMessage(t, 4, "u3"), taskMessage(t, 5, "u4")}}
	p := &fakeProcessor{failures: 100}
	c := &memCounter{counts: map[string]int64{}, err: errors.New("redis down")}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	consume(ctx, r, p, c)

	assert.Empty(t, r.committed)
	assert.Equal(t, 1, p.calls)
	assert.Len(t, r.msgs, 1, "the next message must not be fetched")
}

func TestBrokersSplitsList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092"))
	assert.Equal(t, "kafka:attempts:x", AttemptsKey("x"))
}
