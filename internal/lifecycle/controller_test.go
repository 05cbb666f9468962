package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osapio-go/internal/session"
	"osapio-go/pkg/apperr"
	"osapio-go/pkg/gateway"
	"osapio-go/pkg/identity"
	"osapio-go/pkg/transport"
)

type fakeIdentity struct {
	user  *identity.User
	token string
	err   error
	// entered 与 gate 非空时，BearerToken 先通知进入再等待放行
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeIdentity) CurrentUser() *identity.User { return f.user }

func (f *fakeIdentity) BearerToken(context.Context) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.token, f.err
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{}
	block   bool
	paths   []string
}

func (f *fakeTransport) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, _ string, onProgress transport.ProgressFunc) (string, error) {
	f.mu.Lock()
	f.calls++
	f.paths = append(f.paths, objectPath)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	_, _ = io.Copy(io.Discard, r)
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	return "http://minio:9000/docs/" + objectPath, nil
}

type fakeGateway struct {
	mu         sync.Mutex
	order      []string
	createErr  error
	analyzeErr error
	result     string
	created    gateway.CreateRecordRequest
	analyzed   struct{ id, fileName, content string }
}

func (f *fakeGateway) CreateRecord(_ context.Context, in gateway.CreateRecordRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "create")
	f.created = in
	if f.createErr != nil {
		return "", f.createErr
	}
	return "abc123", nil
}

func (f *fakeGateway) Analyze(_ context.Context, id, fileName, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "analyze")
	f.analyzed.id, f.analyzed.fileName, f.analyzed.content = id, fileName, content
	return f.result, f.analyzeErr
}

func (f *fakeGateway) ListUploads(context.Context) ([]gateway.Record, error) {
	return nil, nil
}

func (f *fakeGateway) GetUpload(context.Context, string) (*gateway.Record, error) {
	return nil, nil
}

func (f *fakeGateway) DeleteRecord(context.Context, string) error {
	return nil
}

func (f *fakeGateway) Download(context.Context, string, io.Writer) (string, int64, error) {
	return "", 0, nil
}

func (f *fakeGateway) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.order {
		if o == name {
			n++
		}
	}
	return n
}

type fixture struct {
	id *fakeIdentity
	gw *fakeGateway
	tr *fakeTransport
	c  *Controller
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		id: &fakeIdentity{user: &identity.User{ID: 42, Email: "a@example.com"}, token: "tok"},
		gw: &fakeGateway{result: "Summary: ..."},
		tr: &fakeTransport{},
	}
	sess := session.New(f.id, f.gw, f.tr)
	sess.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	f.c = New(sess, opts...)
	return f
}

func memFile(name string, size int64, contentType, body string) LocalFile {
	return LocalFile{
		Name:        name,
		Size:        size,
		ContentType: contentType,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func TestReportPDFScenario(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.SelectFile(memFile("report.PDF", 9<<20, "application/pdf", "not really a pdf")))
	assert.Equal(t, PhaseSelected, f.c.Snapshot().Phase)

	require.NoError(t, f.c.StartUpload(context.Background()))

	snap := f.c.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.Equal(t, "Summary: ...", snap.Result)
	assert.Equal(t, "abc123", snap.RecordID)
	assert.False(t, snap.Degraded)

	assert.Equal(t, []string{"create", "analyze"}, f.gw.order)
	assert.Equal(t, "report.PDF", f.gw.analyzed.fileName)
	assert.Equal(t, "abc123", f.gw.analyzed.id)
	assert.Equal(t, "report.PDF", f.gw.created.FileName)
	assert.Equal(t, int64(9<<20), f.gw.created.FileSize)
	assert.Equal(t, "http://minio:9000/docs/uploads/42/1700000000000_report.PDF", f.gw.created.FilePath)
}

func TestSpreadsheetAnalysis404FallsBackToPlaceholder(t *testing.T) {
	f := newFixture()
	f.gw.analyzeErr = apperr.Gateway(http.StatusNotFound, "")
	require.NoError(t, f.c.SelectFile(memFile("data.xlsx", 12634, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "PK")))

	require.NoError(t, f.c.StartUpload(context.Background()))

	snap := f.c.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.True(t, snap.Degraded)
	assert.Contains(t, snap.Result, "Excel")
	assert.Contains(t, snap.Result, "12634")
	assert.NotContains(t, snap.Result, "404")
	// 表格只提交元数据说明
	assert.Contains(t, f.gw.analyzed.content, "Excel file: data.xlsx (12634 bytes)")
}

func TestEmptyAnalysisResultFallsBack(t *testing.T) {
	f := newFixture()
	f.gw.result = "   "
	require.NoError(t, f.c.SelectFile(memFile("notes.txt", 5, "text/plain", "hello")))
	require.NoError(t, f.c.StartUpload(context.Background()))

	snap := f.c.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.True(t, snap.Degraded)
	assert.Contains(t, snap.Result, "notes.txt")
}

func TestSelectFileRejectsDisallowedTypes(t *testing.T) {
	f := newFixture()
	for _, file := range []LocalFile{
		memFile("malware.exe", 1024, "application/x-msdownload", "MZ"),
		memFile("malware.exe", 1024, "text/plain", "MZ"),
		memFile("invoice.pdf", 1024, "application/x-msdownload", "MZ"),
		memFile("export", 1024, "text/csv", "a,b"),
		memFile("legacy.xls", 1024, "application/octet-stream", ""),
	} {
		err := f.c.SelectFile(file)
		require.Error(t, err, file.Name+" "+file.ContentType)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		assert.Equal(t, "Please upload a PDF, XML, CSV, Excel, or text file", apperr.MessageOf(err, ""))
	}
	assert.Equal(t, PhaseIdle, f.c.Snapshot().Phase)

	assert.ErrorIs(t, f.c.StartUpload(context.Background()), ErrNoFileSelected)
	assert.Zero(t, f.tr.calls)
	assert.Empty(t, f.gw.order)
}

func TestSelectFileRejectsOversizedRegardlessOfType(t *testing.T) {
	f := newFixture()
	for _, file := range []LocalFile{
		memFile("big.pdf", 10<<20+1, "application/pdf", ""),
		memFile("big.txt", 11<<20, "text/plain", ""),
	} {
		err := f.c.SelectFile(file)
		assert.True(t, apperr.Is(err, apperr.KindValidation), file.Name)
		assert.Equal(t, "File size must be less than 10MB", apperr.MessageOf(err, ""))
	}
	assert.Equal(t, PhaseIdle, f.c.Snapshot().Phase)

	// 合法选择之后的非法选择不改变已有状态
	require.NoError(t, f.c.SelectFile(memFile("ok.csv", 10<<20, "text/csv", "a,b")))
	require.Error(t, f.c.SelectFile(memFile("bad.exe", 1, "", "")))
	snap := f.c.Snapshot()
	assert.Equal(t, PhaseSelected, snap.Phase)
	assert.Equal(t, "ok.csv", snap.FileName)
}

func TestValidateRequiresExtensionAndMIME(t *testing.T) {
	assert.NoError(t, Validate(memFile("IDOC.XML", 1, "", "")))
	assert.NoError(t, Validate(memFile("IDOC.XML", 1, "text/xml", "")))
	assert.NoError(t, Validate(memFile("export.csv", 1, "text/csv; charset=utf-8", "")))
	assert.NoError(t, Validate(memFile("legacy.xls", 1, "application/vnd.ms-excel", "")))
	assert.Error(t, Validate(memFile("export", 1, "text/csv", "")))
	assert.Error(t, Validate(memFile("notes.txt", 1, "image/png", "")))
	assert.Error(t, Validate(memFile("empty.txt", 0, "text/plain", "")))
}

func TestRecordCreationFailureSkipsAnalysis(t *testing.T) {
	f := newFixture()
	f.gw.createErr = apperr.Gateway(http.StatusForbidden, "file_path does not belong to the current user")
	require.NoError(t, f.c.SelectFile(memFile("a.xml", 10, "text/xml", "<x/>")))

	err := f.c.StartUpload(context.Background())
	require.Error(t, err)

	snap := f.c.Snapshot()
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, "file_path does not belong to the current user", snap.Message)
	assert.Equal(t, 0, f.gw.calls("analyze"))
	assert.Empty(t, snap.RecordID)
}

func TestRecordCreationFailureWithoutDetailUsesGenericMessage(t *testing.T) {
	f := newFixture()
	f.gw.createErr = apperr.Gateway(http.StatusInternalServerError, "")
	require.NoError(t, f.c.SelectFile(memFile("a.xml", 10, "text/xml", "<x/>")))

	require.Error(t, f.c.StartUpload(context.Background()))
	assert.Equal(t, "Failed to create upload record", f.c.Snapshot().Message)
}

func TestTransportFailureCreatesNoRecord(t *testing.T) {
	f := newFixture()
	f.tr.err = apperr.Transport(apperr.TransportQuotaExceeded, errors.New("XMinioStorageFull"))
	require.NoError(t, f.c.SelectFile(memFile("a.pdf", 10, "application/pdf", "%PDF")))

	err := f.c.StartUpload(context.Background())
	require.Error(t, err)
	snap := f.c.Snapshot()
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, "Storage quota exceeded", snap.Message)
	assert.Empty(t, f.gw.order)
}

func TestUntypedTransportErrorIsUnknown(t *testing.T) {
	f := newFixture()
	f.tr.err = errors.New("boom")
	require.NoError(t, f.c.SelectFile(memFile("a.pdf", 10, "application/pdf", "%PDF")))

	err := f.c.StartUpload(context.Background())
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.TransportUnknown, e.Sub)
}

func TestMissingCredentialBlocksUpload(t *testing.T) {
	f := newFixture()
	f.id.token = ""
	require.NoError(t, f.c.SelectFile(memFile("a.txt", 3, "text/plain", "abc")))

	err := f.c.StartUpload(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.Equal(t, PhaseSelected, f.c.Snapshot().Phase)
	assert.Zero(t, f.tr.calls)

	// 身份服务自身的失败同样表现为认证错误
	f.id.token, f.id.err = "", errors.New("refresh failed")
	err = f.c.StartUpload(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.Zero(t, f.tr.calls)

	// 登录后同一选择可以继续上传
	f.id.token, f.id.err = "tok", nil
	require.NoError(t, f.c.StartUpload(context.Background()))
	assert.Equal(t, PhaseCompleted, f.c.Snapshot().Phase)
	assert.Equal(t, 1, f.gw.calls("create"))
}

func TestConcurrentStartUploadRunsOnce(t *testing.T) {
	f := newFixture()
	f.id.entered = make(chan struct{}, 1)
	f.id.gate = make(chan struct{})
	require.NoError(t, f.c.SelectFile(memFile("a.txt", 3, "text/plain", "abc")))

	done := make(chan error, 1)
	go func() { done <- f.c.StartUpload(context.Background()) }()
	<-f.id.entered

	// 第一次调用仍在获取凭证，第二次调用必须被拒绝
	assert.ErrorIs(t, f.c.StartUpload(context.Background()), ErrUploadInProgress)
	close(f.id.gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not finish")
	}
	assert.Equal(t, 1, f.tr.calls)
	assert.Equal(t, 1, f.gw.calls("create"))
	assert.Equal(t, 1, f.gw.calls("analyze"))
	assert.Equal(t, PhaseCompleted, f.c.Snapshot().Phase)
}

func TestSupersedeAbortsClaimedUpload(t *testing.T) {
	f := newFixture()
	f.tr.block = true
	f.tr.started = make(chan struct{}, 1)
	require.NoError(t, f.c.SelectFile(memFile("first.pdf", 10, "application/pdf", "%PDF")))

	done := make(chan error, 1)
	go func() { done <- f.c.StartUpload(context.Background()) }()
	<-f.tr.started
	assert.ErrorIs(t, f.c.StartUpload(context.Background()), ErrNoFileSelected)

	// 新的选择取消正在进行的上传，随后可以立即开始新一轮
	require.NoError(t, f.c.SelectFile(memFile("second.txt", 3, "text/plain", "abc")))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("first upload was not aborted")
	}

	f.tr.block = false
	f.tr.started = nil
	require.NoError(t, f.c.StartUpload(context.Background()))
	assert.Equal(t, PhaseCompleted, f.c.Snapshot().Phase)
	assert.Equal(t, 1, f.gw.calls("create"))
}

func TestUploadTimeout(t *testing.T) {
	f := newFixture(WithUploadTimeout(20 * time.Millisecond))
	f.tr.block = true
	require.NoError(t, f.c.SelectFile(memFile("slow.pdf", 10, "application/pdf", "%PDF")))

	err := f.c.StartUpload(context.Background())
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.TransportTimeout, e.Sub)
	snap := f.c.Snapshot()
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, "Upload timed out, please try again", snap.Message)
	assert.Empty(t, f.gw.order)
}

func TestNewSelectionSupersedesRunningCycle(t *testing.T) {
	f := newFixture()
	f.tr.block = true
	f.tr.started = make(chan struct{}, 1)
	require.NoError(t, f.c.SelectFile(memFile("first.pdf", 10, "application/pdf", "%PDF")))

	done := make(chan error, 1)
	go func() { done <- f.c.StartUpload(context.Background()) }()
	<-f.tr.started
	assert.Equal(t, PhaseUploading, f.c.Snapshot().Phase)

	require.NoError(t, f.c.SelectFile(memFile("second.txt", 3, "text/plain", "abc")))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded cycle did not return")
	}
	snap := f.c.Snapshot()
	assert.Equal(t, PhaseSelected, snap.Phase)
	assert.Equal(t, "second.txt", snap.FileName)
	assert.Empty(t, snap.Message)
	assert.Empty(t, f.gw.order)
}

func TestEventsReportProgress(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.SelectFile(memFile("a.txt", 3, "text/plain", "abc")))
	require.NoError(t, f.c.StartUpload(context.Background()))

	var phases []Phase
	var progress []int
	for len(f.c.Events()) > 0 {
		ev := <-f.c.Events()
		phases = append(phases, ev.Phase)
		if ev.Phase == PhaseUploading {
			progress = append(progress, ev.Progress)
		}
	}
	assert.Equal(t, PhaseSelected, phases[0])
	assert.Equal(t, PhaseCompleted, phases[len(phases)-1])
	assert.Contains(t, phases, PhaseUploaded)
	assert.Contains(t, phases, PhaseAnalyzing)
	assert.Equal(t, []int{0, 50, 100}, progress)
}

func TestCompletedIsTerminalUntilNewSelection(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.c.SelectFile(memFile("a.txt", 3, "text/plain", "abc")))
	require.NoError(t, f.c.StartUpload(context.Background()))

	assert.ErrorIs(t, f.c.StartUpload(context.Background()), ErrNoFileSelected)
	assert.Equal(t, 1, f.tr.calls)

	require.NoError(t, f.c.SelectFile(memFile("b.txt", 3, "text/plain", "def")))
	snap := f.c.Snapshot()
	assert.Equal(t, PhaseSelected, snap.Phase)
	assert.Empty(t, snap.Result)
	assert.Empty(t, snap.RecordID)
}

func TestOpenPathDetectsContentType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idoc.xml")
	require.NoError(t, os.WriteFile(path, []byte("<ORDERS05/>"), 0o600))

	f, err := OpenPath(path)
	require.NoError(t, err)
	assert.Equal(t, "idoc.xml", f.Name)
	assert.Equal(t, int64(11), f.Size)
	assert.Equal(t, "application/xml", f.ContentType)
	require.NoError(t, Validate(f))

	sheet := filepath.Join(dir, "Q3.XLSX")
	require.NoError(t, os.WriteFile(sheet, []byte("PK\x03\x04"), 0o600))
	f, err = OpenPath(sheet)
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", f.ContentType)
	require.NoError(t, Validate(f))

	noExt := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(noExt, []byte("plain words"), 0o600))
	f, err = OpenPath(noExt)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", f.ContentType)

	_, err = OpenPath(dir)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
