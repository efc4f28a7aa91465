package overlay

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"vision-labeler/src/core/detection"
	imageloader "vision-labeler/src/core/image"
	"vision-labeler/src/core/utils"
)

// Renderer 生成标注图。任何错误都只记录日志并返回 ok=false，不向调用方传播。
type Renderer struct {
	loader *imageloader.Loader
	logger *utils.TaggedLogger
}

// NewRenderer 创建标注图渲染器
func NewRenderer(loader *imageloader.Loader, logger *utils.Logger) *Renderer {
	return &Renderer{
		loader: loader,
		logger: logger.WithTag("overlay"),
	}
}

// Render 在 imagePath 对应的图片上绘制边框，写出 PNG 标注图并返回其路径。
// 失败时返回 ("", false)，调用方应按“没有标注图”继续处理。
func (r *Renderer) Render(imagePath string, labels []detection.DetectedLabel) (out string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("绘制边框时发生panic: %v", rec)
			out, ok = "", false
		}
	}()

	out, err := r.render(imagePath, labels)
	if err != nil {
		r.logger.Error("绘制边框失败: %v", err)
		return "", false
	}
	return out, true
}

func (r *Renderer) render(imagePath string, labels []detection.DetectedLabel) (string, error) {
	src, info, err := r.loader.DecodeFile(imagePath)
	if err != nil {
		return "", err
	}

	ov := BuildOverlay(info.Width, info.Height, labels)
	result := Composite(src, Rasterize(ov))

	outPath := ProcessedPath(imagePath)
	if err := writePNG(outPath, result); err != nil {
		return "", err
	}

	r.logger.Debug("标注图已生成 %v", map[string]interface{}{
		"source": imagePath,
		"output": outPath,
		"width":  info.Width,
		"height": info.Height,
		"boxes":  len(ov.Boxes),
	})
	return outPath, nil
}

// writePNG 先写临时文件再重命名，失败时不留下残缺文件
func writePNG(path string, img image.Image) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".overlay-*.png")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = png.Encode(tmp, img); err != nil {
		return fmt.Errorf("PNG编码失败: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("写入标注图失败: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("保存标注图失败: %w", err)
	}
	return nil
}
