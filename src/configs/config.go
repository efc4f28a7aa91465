package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构，启动时加载一次，之后只读
type Config struct {
	Server struct {
		IP   string `yaml:"ip"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Storage StorageConfig `yaml:"storage"`
	Image   ImageConfig   `yaml:"image"`

	Detection DetectionConfig `yaml:"detection"`

	SelectedDetector string                    `yaml:"selected_detector"`
	Detectors        map[string]DetectorConfig `yaml:"detectors"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// StorageConfig 上传文件存储配置
type StorageConfig struct {
	UploadDir     string `yaml:"upload_dir"`      // 原图与标注图所在目录
	URLPrefix     string `yaml:"url_prefix"`      // 静态访问前缀
	MaxUploadSize int64  `yaml:"max_upload_size"` // 单次上传最大字节数
}

// ImageConfig 图片解码限制
type ImageConfig struct {
	MaxPixels int64 `yaml:"max_pixels"`
	MaxWidth  int   `yaml:"max_width"`
	MaxHeight int   `yaml:"max_height"`
}

// DetectionConfig 标签检测的固定参数（按部署配置，不按请求变化）
type DetectionConfig struct {
	MaxLabels     int     `yaml:"max_labels"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// DetectorConfig 检测服务配置，Type 以外的键交给具体实现解析
type DetectorConfig struct {
	Type  string                 `yaml:"type"`
	Extra map[string]interface{} `yaml:",inline"`
}

// ResolveType 返回检测服务类型，未设置 type 时使用配置中的名称
func (dc DetectorConfig) ResolveType(name string) string {
	if dc.Type != "" {
		return dc.Type
	}
	return name
}

// Default 返回带默认值的配置
func Default() *Config {
	config := &Config{}
	config.Normalize()
	return config
}

// Normalize 为未设置的字段填充默认值
func (c *Config) Normalize() {
	if c.Server.IP == "" {
		c.Server.IP = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Log.LogLevel == "" {
		c.Log.LogLevel = "info"
	}
	if c.Log.LogDir == "" {
		c.Log.LogDir = "logs"
	}
	if c.Log.LogFile == "" {
		c.Log.LogFile = "server.log"
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	if c.Storage.URLPrefix == "" {
		c.Storage.URLPrefix = "/uploads"
	}
	if c.Storage.MaxUploadSize == 0 {
		c.Storage.MaxUploadSize = 10 * 1024 * 1024
	}
	if c.Image.MaxPixels == 0 {
		c.Image.MaxPixels = 64 * 1024 * 1024
	}
	if c.Image.MaxWidth == 0 {
		c.Image.MaxWidth = 16384
	}
	if c.Image.MaxHeight == 0 {
		c.Image.MaxHeight = 16384
	}
	if c.Detection.MaxLabels == 0 {
		c.Detection.MaxLabels = 10
	}
	if c.Detection.MinConfidence == 0 {
		c.Detection.MinConfidence = 70
	}
	if c.SelectedDetector == "" {
		c.SelectedDetector = "rekognition"
	}
	if c.Detectors == nil {
		c.Detectors = make(map[string]DetectorConfig)
	}
	if _, ok := c.Detectors[c.SelectedDetector]; !ok {
		c.Detectors[c.SelectedDetector] = DetectorConfig{Type: c.SelectedDetector}
	}
}

// ApplyEnv 用环境变量覆盖配置，需在 godotenv.Load 之后调用
func (c *Config) ApplyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.LogLevel = level
	}

	envKeys := map[string]map[string]string{
		"rekognition": {
			"access_key_id":     "AWS_ACCESS_KEY_ID",
			"secret_access_key": "AWS_SECRET_ACCESS_KEY",
			"region":            "AWS_REGION",
		},
		"gvision": {
			"credentials_file": "GOOGLE_APPLICATION_CREDENTIALS",
		},
		"openai": {
			"api_key": "OPENAI_API_KEY",
		},
	}

	for name, dc := range c.Detectors {
		keys, ok := envKeys[strings.ToLower(dc.ResolveType(name))]
		if !ok {
			continue
		}
		if dc.Extra == nil {
			dc.Extra = make(map[string]interface{})
		}
		for key, env := range keys {
			if v := os.Getenv(env); v != "" {
				if cur, exists := dc.Extra[key]; !exists || cur == "" || cur == nil {
					dc.Extra[key] = v
				}
			}
		}
		c.Detectors[name] = dc
	}
}

// Addr 返回 HTTP 监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.IP, c.Server.Port)
}

// LoadConfig 从文件加载配置，文件不存在时使用默认配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}

	config := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, path, err
		}
		path = ""
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	config.Normalize()
	return config, path, nil
}
