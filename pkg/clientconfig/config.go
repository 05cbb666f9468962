// Package clientconfig 加载命令行客户端的配置。
package clientconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"osapio-go/internal/config"
)

// Config 对应 ~/.osapio/client.yaml。
type Config struct {
	BackendURL     string             `mapstructure:"backend_url"`
	RequestTimeout time.Duration      `mapstructure:"request_timeout"`
	UploadTimeout  time.Duration      `mapstructure:"upload_timeout"`
	TokenFile      string             `mapstructure:"token_file"`
	MinIO          config.MinIOConfig `mapstructure:"minio"`
}

// DefaultPath 返回默认配置文件路径。
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "client.yaml"
	}
	return filepath.Join(home, ".osapio", "client.yaml")
}

// Load 依次读取工作目录下的 .env、YAML 配置文件与 OSAPIO_ 前缀的环境变量，后者优先。
// 配置文件不存在时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("OSAPIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	if cfg.BackendURL == "" {
		return nil, errors.New("backend_url 不能为空")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = filepath.Join(filepath.Dir(DefaultPath()), "credentials.json")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend_url", "http://localhost:8001")
	v.SetDefault("request_timeout", 150*time.Second)
	v.SetDefault("upload_timeout", 2*time.Minute)
	v.SetDefault("token_file", "")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "osapio-uploads")
	v.SetDefault("minio.region", "us-east-1")
}
