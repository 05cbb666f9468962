package repository

import (
	"context"

	"gorm.io/gorm"

	"osapio-go/internal/model"
)

// UploadRepository 接口定义了上传记录相关的数据持久化操作。
type UploadRepository interface {
	Create(ctx context.Context, record *model.UploadRecord) error
	FindByID(ctx context.Context, id string) (*model.UploadRecord, error)
	FindByOwner(ctx context.Context, ownerID uint, limit int) ([]model.UploadRecord, error)
	// Transition 仅当记录当前状态为 from 时更新为 to，并写入 fields 中的附加列。
	// 返回值表示是否有记录被更新。
	Transition(ctx context.Context, id string, from, to model.UploadStatus, fields map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id string, ownerID uint) error
}

// uploadRepository 是 UploadRepository 接口的 GORM 实现。
type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository 创建一个新的 UploadRepository 实例。
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

// Create 创建一条上传记录。
func (r *uploadRepository) Create(ctx context.Context, record *model.UploadRecord) error {
	return translate(r.db.WithContext(ctx).Create(record).Error)
}

// FindByID 根据记录 ID 查找上传记录。
func (r *uploadRepository) FindByID(ctx context.Context, id string) (*model.UploadRecord, error) {
	var record model.UploadRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

// FindByOwner 按上传时间倒序返回用户的记录，最多 limit 条。
func (r *uploadRepository) FindByOwner(ctx context.Context, ownerID uint, limit int) ([]model.UploadRecord, error) {
	var records []model.UploadRecord
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, translate(err)
	}
	return records, nil
}

// Transition 以条件更新实现状态的原子推进，并发请求只有一个能成功。
func (r *uploadRepository) Transition(ctx context.Context, id string, from, to model.UploadStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.UploadRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete 删除指定用户的一条记录。
func (r *uploadRepository) Delete(ctx context.Context, id string, ownerID uint) error {
	res := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.UploadRecord{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
