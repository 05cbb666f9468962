// Package tasks 定义了发送到 Kafka 的任务结构。
package tasks

// AnalysisTask 表示一个异步文档分析任务。
type AnalysisTask struct {
	UploadID   string `json:"upload_id"`
	UserID     uint   `json:"user_id"`
	FileName   string `json:"file_name"`
	ObjectName string `json:"object_name"`
	// Content 为客户端已提取的文本；为空时由消费者从对象存储读取并提取。
	Content string `json:"content,omitempty"`
}
