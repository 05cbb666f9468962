// Package storage 提供了与对象存储服务（MinIO/S3）交互的功能。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"osapio-go/internal/config"
	"osapio-go/pkg/log"
)

// UploadPrefix 是所有用户上传对象的根目录，对象路径为 uploads/{ownerId}/{unixMillis}_{filename}。
const UploadPrefix = "uploads"

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("对象不存在")

// ObjectInfo 是对象的基本元数据。
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Store 封装了一个 MinIO 客户端及其存储桶。
type Store struct {
	client     *minio.Client
	bucketName string
}

// NewClient 按配置创建 MinIO 客户端，不访问网络。
func NewClient(cfg config.MinIOConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}
	return &Store{client: client, bucketName: cfg.BucketName}, nil
}

// Get 打开对象并返回其元数据。调用方负责关闭返回的 reader。
func (s *Store) Get(ctx context.Context, objectName string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, translate(err)
	}
	// GetObject 是惰性的，Stat 才会真正发起请求
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ObjectInfo{}, translate(err)
	}
	return obj, ObjectInfo{Size: stat.Size, ContentType: stat.ContentType}, nil
}

// Remove 删除对象；对象不存在时视为成功。
func (s *Store) Remove(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(translate(err), ErrObjectNotFound) {
		return err
	}
	return nil
}

// PublicAddress 返回对象的访问地址。
func (s *Store) PublicAddress(objectName string) string {
	return Address(s.client.EndpointURL(), s.bucketName, objectName)
}

func translate(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}

// ObjectPath 生成上传对象的路径。
func ObjectPath(ownerID string, unixMillis int64, fileName string) string {
	return fmt.Sprintf("%s/%s/%d_%s", UploadPrefix, ownerID, unixMillis, fileName)
}

// OwnerPrefix 返回指定用户对象路径必须具有的前缀。
func OwnerPrefix(ownerID string) string {
	return UploadPrefix + "/" + ownerID + "/"
}

// Address 拼接 scheme://host/bucket/object 形式的对象地址，对象名中的 #、?、% 等字符会被转义。
func Address(endpoint *url.URL, bucket, objectName string) string {
	u := url.URL{Scheme: endpoint.Scheme, Host: endpoint.Host, Path: "/" + bucket + "/" + objectName}
	return u.String()
}

// ObjectName 从对象地址中解析出对象路径。地址既可以是 Address 生成的完整 URL，
// 也可以是不带 scheme 的裸路径（uploads/...）。
func ObjectName(address, bucket string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("对象地址为空")
	}
	path := address
	if strings.Contains(address, "://") {
		u, err := url.Parse(address)
		if err != nil {
			return "", fmt.Errorf("无法解析对象地址: %w", err)
		}
		path = strings.TrimPrefix(u.Path, "/")
		if bucket != "" {
			if !strings.HasPrefix(path, bucket+"/") {
				return "", fmt.Errorf("对象地址不属于存储桶 %s", bucket)
			}
			path = strings.TrimPrefix(path, bucket+"/")
		}
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", errors.New("非法的对象路径")
	}
	// 只拒绝 . 与 .. 路径段，文件名中的 ".." 是合法的
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", errors.New("非法的对象路径")
		}
	}
	return path, nil
}
