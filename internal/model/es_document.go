// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// AnalysisDocument 是写入 Elasticsearch 的分析结果文档，文档 ID 即记录 ID。
type AnalysisDocument struct {
	UploadID       string    `json:"upload_id"`
	UserID         uint      `json:"user_id"`
	FileName       string    `json:"filename"`
	ContentType    string    `json:"content_type"`
	AnalysisResult string    `json:"analysis_result"`
	CreatedAt      time.Time `json:"upload_timestamp"`
}

// SearchResult 是检索接口返回给客户端的一条命中。
type SearchResult struct {
	UploadID  string    `json:"id"`
	FileName  string    `json:"filename"`
	Snippet   string    `json:"snippet"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"upload_timestamp"`
}
