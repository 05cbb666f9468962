package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"osapio-go/internal/model"
	"osapio-go/internal/repository"
	"osapio-go/pkg/log"
	"osapio-go/pkg/storage"
)

// DefaultListLimit 是列表接口返回的最大记录数。
const DefaultListLimit = 100

// ObjectStore 抽象了对象存储，*storage.Store 满足它。
type ObjectStore interface {
	Get(ctx context.Context, objectName string) (io.ReadCloser, storage.ObjectInfo, error)
	Remove(ctx context.Context, objectName string) error
}

// AnalysisIndexer 抽象了分析结果的全文索引，*es.Client 满足它。
type AnalysisIndexer interface {
	IndexAnalysis(ctx context.Context, doc model.AnalysisDocument) error
	DeleteAnalysis(ctx context.Context, uploadID string) error
	SearchAnalyses(ctx context.Context, userID uint, query string, size int) ([]model.SearchResult, error)
}

// CreateRecordInput 是创建上传记录的请求参数。
type CreateRecordInput struct {
	FileName    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	FilePath    string `json:"file_path"`
	ContentType string `json:"content_type"`
}

// UploadService 接口定义了上传记录相关的业务操作。
type UploadService interface {
	CreateRecord(ctx context.Context, userID uint, in CreateRecordInput) (*model.UploadRecord, error)
	ListUploads(ctx context.Context, userID uint) ([]model.UploadRecord, error)
	GetUpload(ctx context.Context, userID uint, id string) (*model.UploadRecord, error)
	// OpenDownload 打开记录对应的存储对象，调用方负责关闭 reader。
	OpenDownload(ctx context.Context, userID uint, id string) (io.ReadCloser, storage.ObjectInfo, *model.UploadRecord, error)
	DeleteRecord(ctx context.Context, userID uint, id string) error
}

type uploadService struct {
	uploadRepo repository.UploadRepository
	store      ObjectStore
	indexer    AnalysisIndexer
	bucketName string
	listLimit  int
}

// NewUploadService 创建一个新的 UploadService 实例。indexer 可以为 nil。
func NewUploadService(uploadRepo repository.UploadRepository, store ObjectStore, indexer AnalysisIndexer, bucketName string, listLimit int) UploadService {
	if listLimit <= 0 {
		listLimit = DefaultListLimit
	}
	return &uploadService{
		uploadRepo: uploadRepo,
		store:      store,
		indexer:    indexer,
		bucketName: bucketName,
		listLimit:  listLimit,
	}
}

// CreateRecord 在对象上传完成后登记一条 pending 状态的记录。
func (s *uploadService) CreateRecord(ctx context.Context, userID uint, in CreateRecordInput) (*model.UploadRecord, error) {
	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" || fileName != path.Base(fileName) {
		return nil, fmt.Errorf("%w: filename 不合法", ErrInvalidInput)
	}
	if in.FileSize <= 0 || in.FileSize > model.MaxFileSize {
		return nil, fmt.Errorf("%w: file_size 必须在 1 到 %d 字节之间", ErrInvalidInput, model.MaxFileSize)
	}
	objectName, err := storage.ObjectName(in.FilePath, s.bucketName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	// 对象必须位于当前用户自己的目录下
	if !strings.HasPrefix(objectName, storage.OwnerPrefix(strconv.FormatUint(uint64(userID), 10))) {
		log.Warnf("[UploadService] 拒绝登记不属于用户的对象, userID: %d, path: %s", userID, objectName)
		return nil, ErrForbiddenPath
	}

	record := &model.UploadRecord{
		ID:             uuid.NewString(),
		OwnerID:        userID,
		FileName:       fileName,
		FileSize:       in.FileSize,
		ContentType:    strings.TrimSpace(in.ContentType),
		StorageAddress: in.FilePath,
		Status:         model.StatusPending,
	}
	if err := s.uploadRepo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("创建上传记录失败: %w", err)
	}
	log.Infof("[UploadService] 上传记录已创建, id: %s, userID: %d, file: %s", record.ID, userID, fileName)
	return record, nil
}

// ListUploads 按上传时间倒序返回当前用户的记录，不包含分析正文。
func (s *uploadService) ListUploads(ctx context.Context, userID uint) ([]model.UploadRecord, error) {
	records, err := s.uploadRepo.FindByOwner(ctx, userID, s.listLimit)
	if err != nil {
		return nil, err
	}
	out := make([]model.UploadRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r.Summary())
	}
	return out, nil
}

// GetUpload 返回完整记录；不存在或不属于当前用户时统一返回 ErrRecordNotFound。
func (s *uploadService) GetUpload(ctx context.Context, userID uint, id string) (*model.UploadRecord, error) {
	return findOwned(ctx, s.uploadRepo, userID, id)
}

func (s *uploadService) OpenDownload(ctx context.Context, userID uint, id string) (io.ReadCloser, storage.ObjectInfo, *model.UploadRecord, error) {
	record, err := findOwned(ctx, s.uploadRepo, userID, id)
	if err != nil {
		return nil, storage.ObjectInfo{}, nil, err
	}
	objectName, err := storage.ObjectName(record.StorageAddress, s.bucketName)
	if err != nil {
		return nil, storage.ObjectInfo{}, nil, fmt.Errorf("记录中的对象地址不合法: %w", err)
	}
	rc, info, err := s.store.Get(ctx, objectName)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ObjectInfo{}, nil, ErrRecordNotFound
		}
		return nil, storage.ObjectInfo{}, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rc, info, record, nil
}

// DeleteRecord 删除记录，并尽力清理存储对象与索引文档。
func (s *uploadService) DeleteRecord(ctx context.Context, userID uint, id string) error {
	record, err := findOwned(ctx, s.uploadRepo, userID, id)
	if err != nil {
		return err
	}
	if err := s.uploadRepo.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRecordNotFound
		}
		return err
	}

	if objectName, err := storage.ObjectName(record.StorageAddress, s.bucketName); err == nil {
		if err := s.store.Remove(ctx, objectName); err != nil {
			log.Warnf("[UploadService] 删除存储对象失败, id: %s, object: %s, error: %v", id, objectName, err)
		}
	}
	if s.indexer != nil {
		if err := s.indexer.DeleteAnalysis(ctx, id); err != nil {
			log.Warnf("[UploadService] 删除索引文档失败, id: %s, error: %v", id, err)
		}
	}
	log.Infof("[UploadService] 上传记录已删除, id: %s, userID: %d", id, userID)
	return nil
}

func findOwned(ctx context.Context, repo repository.UploadRepository, userID uint, id string) (*model.UploadRecord, error) {
	record, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if record.OwnerID != userID {
		return nil, ErrRecordNotFound
	}
	return record, nil
}
