// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// MaxFileSize 是单个上传文件的大小上限（10 MiB）。
const MaxFileSize int64 = 10 << 20

// UploadStatus 是上传记录的分析状态。
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
)

// Valid 报告状态值是否合法。
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal 报告状态是否为终态。
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo 状态只能向前推进：pending → processing → completed，
// 非终态可进入 failed；终态不可再变化。
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// UploadRecord 定义了 file_uploads 表的 ORM 模型，每次被接受的上传对应一条记录。
type UploadRecord struct {
	ID             string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID        uint         `gorm:"not null;index:idx_owner_created,priority:1" json:"user_id"`
	FileName       string       `gorm:"type:varchar(255);not null" json:"filename"`
	FileSize       int64        `gorm:"not null" json:"file_size"`
	ContentType    string       `gorm:"type:varchar(128)" json:"content_type"`
	StorageAddress string       `gorm:"type:varchar(1024);not null" json:"file_path"`
	Status         UploadStatus `gorm:"type:varchar(16);not null;default:pending" json:"analysis_status"`
	AnalysisResult string       `gorm:"type:text" json:"analysis_result,omitempty"`
	ErrorMessage   string       `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime;index:idx_owner_created,priority:2" json:"upload_timestamp"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UploadRecord) TableName() string {
	return "file_uploads"
}

// Summary 返回列表视图使用的副本，省略分析正文。
func (r UploadRecord) Summary() UploadRecord {
	r.AnalysisResult = ""
	return r
}
