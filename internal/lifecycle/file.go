package lifecycle

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"osapio-go/internal/model"
	"osapio-go/pkg/apperr"
)

// 允许上传的扩展名及其对应的 MIME。扩展名必须命中；声明了 MIME 时也必须在允许列表中。
var (
	allowedExtensions = map[string]string{
		".pdf":  "application/pdf",
		".xml":  "application/xml",
		".txt":  "text/plain",
		".csv":  "text/csv",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		".xls":  "application/vnd.ms-excel",
	}
	allowedMIMETypes = map[string]bool{
		"application/pdf": true,
		"text/xml":        true,
		"application/xml": true,
		"text/plain":      true,
		"text/csv":        true,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
		"application/vnd.ms-excel": true,
	}
)

// LocalFile 描述用户选择的本地文件。Open 每次调用都返回新的读取流。
type LocalFile struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// OpenPath 从磁盘路径构造 LocalFile。允许的扩展名使用固定的 MIME，
// 其余先查系统 MIME 表，查不到时嗅探文件头。
func OpenPath(path string) (LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("无法读取文件: %w", err)
	}
	if info.IsDir() {
		return LocalFile{}, apperr.Validation("Please choose a file, not a directory")
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, known := allowedExtensions[ext]
	if !known {
		contentType = baseMediaType(mime.TypeByExtension(ext))
	}
	if contentType == "" {
		contentType = sniff(path)
	}
	return LocalFile{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: contentType,
		Open:        func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

func sniff(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return baseMediaType(http.DetectContentType(head[:n]))
}

func baseMediaType(ct string) string {
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Validate 校验文件类型与大小，失败时返回 apperr.KindValidation。
func Validate(f LocalFile) error {
	_, extOK := allowedExtensions[strings.ToLower(filepath.Ext(f.Name))]
	mimeOK := f.ContentType == "" || allowedMIMETypes[baseMediaType(f.ContentType)]
	if !extOK || !mimeOK {
		return apperr.Validation("Please upload a PDF, XML, CSV, Excel, or text file")
	}
	if f.Size > model.MaxFileSize {
		return apperr.Validation("File size must be less than 10MB")
	}
	if f.Size <= 0 {
		return apperr.Validation("The selected file is empty")
	}
	if f.Open == nil {
		return apperr.Validation("The selected file cannot be read")
	}
	return nil
}
