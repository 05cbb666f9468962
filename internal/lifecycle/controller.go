// Package lifecycle 驱动单个文件的上传流程：
// 选择 → 校验 → 上传到对象存储 → 登记记录 → 提交分析 → 结果。
package lifecycle

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"osapio-go/internal/model"
	"osapio-go/internal/session"
	"osapio-go/pkg/apperr"
	"osapio-go/pkg/extract"
	"osapio-go/pkg/gateway"
	"osapio-go/pkg/log"
)

// Phase 是上传流程当前所处的阶段。
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelected  Phase = "selected"
	PhaseUploading Phase = "uploading"
	PhaseUploaded  Phase = "uploaded"
	PhaseAnalyzing Phase = "analyzing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// DefaultUploadTimeout 是单次上传到对象存储的时间上限。
const DefaultUploadTimeout = 2 * time.Minute

var (
	// ErrNoFileSelected 表示在没有已选文件时调用了 StartUpload。
	ErrNoFileSelected = errors.New("no file selected")
	// ErrSuperseded 表示本轮流程已被新的 SelectFile 取代，其结果被丢弃。
	ErrSuperseded = errors.New("upload superseded by a newer selection")
	// ErrUploadInProgress 表示当前选择已经有一次 StartUpload 在执行。
	ErrUploadInProgress = errors.New("an upload is already in progress for this selection")
)

// Event 是发往展示层的通知，不影响流程本身。
type Event struct {
	Seq      uint64
	Phase    Phase
	Progress int
	Message  string
}

// Snapshot 是控制器状态的只读副本。
type Snapshot struct {
	Seq      uint64
	Phase    Phase
	FileName string
	Progress int
	RecordID string
	Result   string
	Message  string
	// Degraded 为 true 时 Result 是本地生成的元数据摘要。
	Degraded bool
}

// Controller 是上传流程的状态机。每次 SelectFile 开启新的一轮并递增序号，
// 旧一轮的异步结果在序号不匹配时被丢弃。
type Controller struct {
	sess          *session.Session
	uploadTimeout time.Duration
	events        chan Event

	mu       sync.Mutex
	seq      uint64
	phase    Phase
	file     *LocalFile
	cancel   context.CancelFunc
	inFlight bool
	progress int
	recordID string
	result   string
	message  string
	degraded bool
}

// Option 配置 Controller。
type Option func(*Controller)

// WithUploadTimeout 覆盖上传超时时间。
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Controller) { c.uploadTimeout = d }
}

// WithEventBuffer 设置通知通道的缓冲大小。
func WithEventBuffer(n int) Option {
	return func(c *Controller) { c.events = make(chan Event, n) }
}

// New 创建控制器。
func New(sess *session.Session, opts ...Option) *Controller {
	c := &Controller{
		sess:          sess,
		uploadTimeout: DefaultUploadTimeout,
		events:        make(chan Event, 64),
		phase:         PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events 返回通知通道。通道满时新通知被丢弃。
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Snapshot 返回当前状态。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Seq:      c.seq,
		Phase:    c.phase,
		Progress: c.progress,
		RecordID: c.recordID,
		Result:   c.result,
		Message:  c.message,
		Degraded: c.degraded,
	}
	if c.file != nil {
		s.FileName = c.file.Name
	}
	return s
}

// SelectFile 校验文件并开启新的一轮，之前进行中的一轮会被取消。
// 校验失败时状态不变。
func (c *Controller) SelectFile(f LocalFile) error {
	if err := Validate(f); err != nil {
		c.mu.Lock()
		ev := Event{Seq: c.seq, Phase: c.phase, Progress: c.progress, Message: apperr.MessageOf(err, "Invalid file")}
		c.mu.Unlock()
		c.emit(ev)
		return err
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.inFlight = false
	c.file = &f
	c.phase = PhaseSelected
	c.progress = 0
	c.recordID = ""
	c.result = ""
	c.message = ""
	c.degraded = false
	ev := c.eventLocked()
	c.mu.Unlock()

	c.emit(ev)
	log.Debugf("[Lifecycle] 已选择文件 %s (%d bytes), seq: %d", f.Name, f.Size, ev.Seq)
	return nil
}

// StartUpload 依次执行上传、登记与分析，阻塞到本轮结束。
// 返回 nil 表示到达 completed（分析失败时结果为本地摘要）；
// 认证失败时状态保持 selected；被新一轮取代时返回 ErrSuperseded。
// 同一选择上的并发调用只有一个会执行，其余返回 ErrUploadInProgress。
func (c *Controller) StartUpload(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseSelected || c.file == nil {
		c.mu.Unlock()
		return ErrNoFileSelected
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	c.inFlight = true
	seq := c.seq
	file := *c.file
	cycleCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()
	defer c.release(seq)

	// 1. 认证
	if _, err := c.sess.Token(cycleCtx); err != nil {
		c.notify(seq, apperr.MessageOf(err, "Authentication failed"))
		return err
	}
	objectPath, err := c.sess.ObjectPath(file.Name)
	if err != nil {
		c.notify(seq, apperr.MessageOf(err, "Authentication failed"))
		return err
	}

	// 2. 上传到对象存储
	if !c.advance(seq, PhaseUploading) {
		return ErrSuperseded
	}
	address, err := c.upload(cycleCtx, seq, objectPath, file)
	if err != nil {
		return c.fail(seq, err, "Upload failed")
	}
	if !c.advance(seq, PhaseUploaded) {
		return ErrSuperseded
	}

	// 3. 登记记录，失败时不提交分析
	recordID, err := c.sess.Gateway.CreateRecord(cycleCtx, gateway.CreateRecordRequest{
		FileName:    file.Name,
		FileSize:    file.Size,
		FilePath:    address,
		ContentType: file.ContentType,
	})
	if err != nil {
		return c.fail(seq, err, "Failed to create upload record")
	}
	if !c.update(seq, func() {
		c.recordID = recordID
		c.phase = PhaseAnalyzing
	}) {
		return ErrSuperseded
	}

	// 4. 分析；任何失败都以本地摘要收尾
	result, degraded := c.analyze(cycleCtx, recordID, file)
	if !c.update(seq, func() {
		c.result = result
		c.degraded = degraded
		c.phase = PhaseCompleted
		c.progress = 100
		if degraded {
			c.message = "Analysis is unavailable right now; showing a file summary instead"
		} else {
			c.message = "Document analyzed successfully"
		}
	}) {
		return ErrSuperseded
	}
	log.Infof("[Lifecycle] 上传流程完成, record: %s, degraded: %v", recordID, degraded)
	return nil
}

func (c *Controller) upload(ctx context.Context, seq uint64, objectPath string, f LocalFile) (string, error) {
	upCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	rc, err := f.Open()
	if err != nil {
		return "", apperr.Transport(apperr.TransportUnknown, err)
	}
	defer rc.Close()

	address, err := c.sess.Transport.Upload(upCtx, objectPath, rc, f.Size, f.ContentType, func(pct int) {
		c.setProgress(seq, pct)
	})
	if err != nil {
		if errors.Is(upCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", apperr.Transport(apperr.TransportTimeout, err)
		}
		if _, ok := apperr.As(err); !ok {
			return "", apperr.Transport(apperr.TransportUnknown, err)
		}
		return "", err
	}
	if address == "" {
		return "", apperr.Transport(apperr.TransportUnknown, errors.New("对象地址为空"))
	}
	return address, nil
}

func (c *Controller) analyze(ctx context.Context, recordID string, f LocalFile) (string, bool) {
	content, err := readContent(f)
	if err == nil {
		var result string
		result, err = c.sess.Gateway.Analyze(ctx, recordID, f.Name, content)
		if err == nil && strings.TrimSpace(result) != "" {
			return result, false
		}
		if err == nil {
			err = apperr.AnalysisUnavailable(errors.New("分析结果为空"))
		}
	}
	log.Warnf("[Lifecycle] 分析不可用，使用本地摘要, record: %s, error: %v", recordID, err)
	return Placeholder(f, c.sess.Now()), true
}

// readContent 生成提交分析的文本：表格只提交元数据说明，其余截断到 extract.MaxChars。
func readContent(f LocalFile) (string, error) {
	if extract.IsSpreadsheet(f.Name, f.ContentType) {
		return extract.SpreadsheetPlaceholder(f.Name, f.Size), nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, model.MaxFileSize))
	if err != nil {
		return "", err
	}
	return extract.ClientContent(f.Name, f.ContentType, data), nil
}

// release 结束本轮的执行占用；认证失败后仍处于 selected，可以再次 StartUpload。
func (c *Controller) release(seq uint64) {
	c.mu.Lock()
	if seq == c.seq {
		c.inFlight = false
		c.cancel = nil
	}
	c.mu.Unlock()
}

// advance 在 seq 仍是当前轮次时切换阶段。
func (c *Controller) advance(seq uint64, next Phase) bool {
	return c.update(seq, func() { c.phase = next })
}

// update 在 seq 仍是当前轮次时执行 fn 并发出通知；否则丢弃。
func (c *Controller) update(seq uint64, fn func()) bool {
	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return false
	}
	fn()
	ev := c.eventLocked()
	c.mu.Unlock()
	c.emit(ev)
	return true
}

func (c *Controller) fail(seq uint64, err error, fallback string) error {
	msg := apperr.MessageOf(err, fallback)
	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindGateway && e.Detail == "" && !e.Unavailable() && e.Msg == "" {
		msg = fallback
	}
	if !c.update(seq, func() {
		c.phase = PhaseFailed
		c.message = msg
	}) {
		return ErrSuperseded
	}
	log.Warnf("[Lifecycle] 上传流程失败, seq: %d, error: %v", seq, err)
	return err
}

// notify 只发出消息，不改变阶段。
func (c *Controller) notify(seq uint64, msg string) {
	c.update(seq, func() { c.message = msg })
}

func (c *Controller) setProgress(seq uint64, pct int) {
	c.update(seq, func() { c.progress = pct })
}

func (c *Controller) eventLocked() Event {
	return Event{Seq: c.seq, Phase: c.phase, Progress: c.progress, Message: c.message}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
