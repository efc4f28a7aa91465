// Package overlay 把检测结果绘制成边框与文字叠加层，并合成到原图上。
package overlay

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"vision-labeler/src/core/detection"
)

const (
	// StrokeWidth 边框线宽
	StrokeWidth = 3.0
	// StrokeOpacity 边框不透明度
	StrokeOpacity = 0.8
	// LabelOffset 文字基线位于边框上沿之上的距离，可能为负坐标
	LabelOffset = 5.0
	// FontSize 文字字号（像素）
	FontSize = 16.0

	processedSuffix = "_processed"
	processedExt    = ".png"
)

// Palette 按标签序号循环使用的颜色
var Palette = []color.RGBA{
	{R: 0xFF, G: 0x00, B: 0x00, A: 0xFF},
	{R: 0x00, G: 0xFF, B: 0x00, A: 0xFF},
	{R: 0x00, G: 0x00, B: 0xFF, A: 0xFF},
	{R: 0xFF, G: 0xFF, B: 0x00, A: 0xFF},
	{R: 0xFF, G: 0x00, B: 0xFF, A: 0xFF},
	{R: 0x00, G: 0xFF, B: 0xFF, A: 0xFF},
}

// Rect 像素坐标矩形，未截断
type Rect struct {
	X, Y, W, H float64
}

// Box 叠加层中的一个边框及其文字
type Box struct {
	LabelIndex int
	Color      color.RGBA
	Rect       Rect
	Text       string
	TextX      float64
	TextY      float64
}

// Overlay 与原图同尺寸的矢量叠加层
type Overlay struct {
	Width  int
	Height int
	Boxes  []Box
}

// ColorFor 返回第 i 个标签的颜色
func ColorFor(i int) color.RGBA {
	return Palette[i%len(Palette)]
}

// PixelRect 把归一化边框换算为像素坐标
func PixelRect(box detection.NormalizedBox, width, height int) Rect {
	w, h := float64(width), float64(height)
	return Rect{
		X: box.Left * w,
		Y: box.Top * h,
		W: box.Width * w,
		H: box.Height * h,
	}
}

// Caption 标签文字，置信度四舍五入为整数百分比
func Caption(label detection.DetectedLabel) string {
	return fmt.Sprintf("%s (%d%%)", label.Name, int(math.Round(label.Confidence)))
}

// BuildOverlay 按标签顺序生成叠加层。
// 颜色序号按标签计数而不是按实例计数，没有边框的标签也占用一个序号。
func BuildOverlay(width, height int, labels []detection.DetectedLabel) Overlay {
	ov := Overlay{Width: width, Height: height}

	for i, label := range labels {
		col := ColorFor(i)
		for _, inst := range label.Instances {
			if inst.Box == nil {
				continue
			}
			rect := PixelRect(*inst.Box, width, height)
			ov.Boxes = append(ov.Boxes, Box{
				LabelIndex: i,
				Color:      col,
				Rect:       rect,
				Text:       Caption(label),
				TextX:      rect.X,
				TextY:      rect.Y - LabelOffset,
			})
		}
	}

	return ov
}

// ProcessedPath 标注图路径：同目录、同名加 _processed 后缀，扩展名固定为 .png
func ProcessedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + processedSuffix + processedExt
}
