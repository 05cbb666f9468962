package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"osapio-go/pkg/extract"
)

// Placeholder 在分析不可用时生成只基于文件元数据的本地摘要。
func Placeholder(f LocalFile, at time.Time) string {
	kind := f.ContentType
	if kind == "" {
		kind = "unknown"
	}
	if extract.IsSpreadsheet(f.Name, f.ContentType) {
		kind = "Excel spreadsheet (" + kind + ")"
	}

	var b strings.Builder
	b.WriteString("File Analysis Results:\n")
	b.WriteString("====================\n\n")
	fmt.Fprintf(&b, "File: %s\n", f.Name)
	fmt.Fprintf(&b, "Size: %.2f KB (%d bytes)\n", float64(f.Size)/1024, f.Size)
	fmt.Fprintf(&b, "Type: %s\n", kind)
	fmt.Fprintf(&b, "Upload Time: %s\n\n", at.Format("2006-01-02 15:04:05"))
	b.WriteString("Content Summary:\n")
	b.WriteString("AI analysis is currently unavailable, so this summary only reflects the file metadata.\n")
	b.WriteString("The document was stored successfully; open it from your uploads later to check for a full analysis.\n")
	return b.String()
}
