package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"

	"vision-labeler/src/configs"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/bmp"  // 注册BMP解码器
	_ "golang.org/x/image/tiff" // 注册TIFF解码器
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// ErrTooLarge 图片尺寸或像素数超出限制
var ErrTooLarge = errors.New("image exceeds configured limits")

// 图片格式魔数签名
var imageSignatures = []struct {
	format    string
	signature []byte
}{
	{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{"jpeg", []byte{0xFF, 0xD8}},
	{"gif", []byte("GIF8")},
	{"bmp", []byte("BM")},
	{"tiff", []byte{0x49, 0x49, 0x2A, 0x00}},
	{"tiff", []byte{0x4D, 0x4D, 0x00, 0x2A}},
}

// extensions 格式对应的文件扩展名
var extensions = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"bmp":  ".bmp",
	"tiff": ".tiff",
	"webp": ".webp",
}

// DetectFormat 根据文件头判断图片格式，无法识别时返回空字符串
func DetectFormat(data []byte) string {
	for _, s := range imageSignatures {
		if bytes.HasPrefix(data, s.signature) {
			return s.format
		}
	}
	// WEBP: RIFF....WEBP
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "webp"
	}
	return ""
}

// Extension 返回格式对应的扩展名，未知格式返回空字符串
func Extension(format string) string {
	return extensions[format]
}

// Loader 按配置限制解码图片
type Loader struct {
	config *configs.ImageConfig
}

// NewLoader 创建图片加载器
func NewLoader(config *configs.ImageConfig) *Loader {
	return &Loader{config: config}
}

// Inspect 只解析图片头，返回尺寸与格式，并检查尺寸限制
func (l *Loader) Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("图片解码失败: %w", err)
	}

	info := Info{
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		FileSize: int64(len(data)),
	}

	if err := l.checkLimits(info); err != nil {
		return info, err
	}
	return info, nil
}

// Decode 解码完整图片，解码前先检查尺寸，避免超大图片耗尽内存
func (l *Loader) Decode(data []byte) (image.Image, Info, error) {
	info, err := l.Inspect(data)
	if err != nil {
		return nil, info, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, info, fmt.Errorf("图片解码失败: %w", err)
	}
	return img, info, nil
}

// DecodeFile 读取并解码图片文件
func (l *Loader) DecodeFile(path string) (image.Image, Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("读取图片文件失败: %w", err)
	}
	return l.Decode(data)
}

func (l *Loader) checkLimits(info Info) error {
	if info.Width <= 0 || info.Height <= 0 {
		return fmt.Errorf("图片尺寸无效: %dx%d", info.Width, info.Height)
	}
	if l.config == nil {
		return nil
	}
	if (l.config.MaxWidth > 0 && info.Width > l.config.MaxWidth) ||
		(l.config.MaxHeight > 0 && info.Height > l.config.MaxHeight) {
		return fmt.Errorf("%w: 尺寸 %dx%d，最大允许 %dx%d",
			ErrTooLarge, info.Width, info.Height, l.config.MaxWidth, l.config.MaxHeight)
	}
	if l.config.MaxPixels > 0 && info.Pixels() > l.config.MaxPixels {
		return fmt.Errorf("%w: 像素总数 %d，最大允许 %d", ErrTooLarge, info.Pixels(), l.config.MaxPixels)
	}
	return nil
}
