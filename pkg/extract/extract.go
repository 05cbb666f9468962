// Package extract 负责从上传文件中取出可供分析的文本。
// 客户端与服务端共用同一套截断与表格判定规则。
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// MaxChars 是提交分析的文本上限（按字符计）。
const MaxChars = 50000

// Extractor 从文件流中提取纯文本。Tika 客户端与 Local 都实现该接口。
type Extractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Truncate 按字符截断，不会切断多字节字符。
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// IsSpreadsheet 判断文件是否为 Excel 表格（扩展名或 MIME 任一命中即可）。
func IsSpreadsheet(fileName, contentType string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xls":
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "spreadsheet") || strings.Contains(ct, "ms-excel")
}

// IsPDF 判断文件是否为 PDF。
func IsPDF(fileName, contentType string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".pdf") || strings.EqualFold(contentType, "application/pdf")
}

// SpreadsheetPlaceholder 返回表格文件提交分析时使用的元数据说明。
// 客户端不解析二进制表格，只告知后端文件名与大小。
func SpreadsheetPlaceholder(fileName string, size int64) string {
	return fmt.Sprintf("Excel file: %s (%d bytes). Binary spreadsheet content is not included; analyze based on the file name and SAP context.", fileName, size)
}

// ClientContent 生成客户端提交分析的文本：表格使用元数据说明，PDF 尝试提取文本，
// 其余按 UTF-8 文本处理；结果截断到 MaxChars。
func ClientContent(fileName, contentType string, data []byte) string {
	if IsSpreadsheet(fileName, contentType) {
		return SpreadsheetPlaceholder(fileName, int64(len(data)))
	}
	if IsPDF(fileName, contentType) {
		text, err := pdfText(data)
		if err != nil || strings.TrimSpace(text) == "" {
			return fmt.Sprintf("PDF file: %s (%d bytes). Text could not be extracted.", fileName, len(data))
		}
		return Truncate(text, MaxChars)
	}
	return Truncate(strings.ToValidUTF8(string(data), "�"), MaxChars)
}

// Local 是不依赖外部服务的文本提取器，支持 PDF、XLSX 与纯文本。
type Local struct{}

// NewLocal 创建本地提取器。
func NewLocal() *Local { return &Local{} }

// ExtractText 根据文件扩展名选择解码方式。
func (l *Local) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("读取文件内容失败: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return pdfText(data)
	case ".xlsx":
		return xlsxText(data)
	case ".xls":
		// 旧版二进制格式无法解析，只保留元数据
		return SpreadsheetPlaceholder(fileName, int64(len(data))), nil
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("不支持的二进制格式: %s", fileName)
	}
	return strings.TrimSpace(string(data)), nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析 PDF 失败: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("提取 PDF 文本失败: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("读取 PDF 文本失败: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// xlsxText 将每个工作表按行输出为制表符分隔的文本。
func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("解析 XLSX 失败: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("读取工作表 %s 失败: %w", sheet, err)
		}
		fmt.Fprintf(&sb, "# %s\n", sheet)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
