package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

var (
	boldOnce sync.Once
	boldFont *opentype.Font
	boldErr  error
)

// newFace 每次绘制创建新的字体 face，opentype face 不能并发使用
func newFace() font.Face {
	boldOnce.Do(func() {
		boldFont, boldErr = opentype.Parse(gobold.TTF)
	})
	if boldErr != nil {
		return basicfont.Face7x13
	}

	face, err := opentype.NewFace(boldFont, &opentype.FaceOptions{
		Size:    FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}

// Rasterize 把叠加层绘制到透明图层上
func Rasterize(ov Overlay) *image.RGBA {
	layer := image.NewRGBA(image.Rect(0, 0, ov.Width, ov.Height))
	if len(ov.Boxes) == 0 {
		return layer
	}

	face := newFace()
	defer face.Close()

	for _, b := range ov.Boxes {
		strokeRect(layer, b.Rect, withOpacity(b.Color, StrokeOpacity))
		drawText(layer, face, b.Text, b.TextX, b.TextY, b.Color)
	}
	return layer
}

// Composite 把叠加层合成到原图 (0,0) 处，返回新图，不修改原图
func Composite(src image.Image, layer image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	draw.Draw(dst, dst.Bounds(), layer, image.Point{}, draw.Over)
	return dst
}

func withOpacity(c color.RGBA, opacity float64) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(float64(c.A) * opacity))}
}

// strokeRect 以矩形边为中线描边：外框顺时针、内框逆时针，两者相减得到边框。
// 光栅器只覆盖外框所在的区域，开销与边框大小相关而与画布大小无关。
func strokeRect(dst *image.RGBA, r Rect, c color.Color) {
	size := dst.Bounds().Size()
	half := StrokeWidth / 2

	outer := clip(r.X-half, r.Y-half, r.X+r.W+half, r.Y+r.H+half, size)
	if outer.empty() {
		return
	}

	area := outer.bounds()
	origin := [2]float32{float32(area.Min.X), float32(area.Min.Y)}

	z := vector.NewRasterizer(area.Dx(), area.Dy())
	outer.path(z, origin, true)
	if r.W > StrokeWidth && r.H > StrokeWidth {
		inner := clip(r.X+half, r.Y+half, r.X+r.W-half, r.Y+r.H-half, size)
		if !inner.empty() {
			inner.path(z, origin, false)
		}
	}
	z.Draw(dst, area, image.NewUniform(c), image.Point{})
}

type box32 struct {
	x0, y0, x1, y1 float32
}

func (b box32) empty() bool {
	return b.x1 <= b.x0 || b.y1 <= b.y0
}

// bounds 包含该矩形的最小整数像素区域
func (b box32) bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(b.x0))),
		int(math.Floor(float64(b.y0))),
		int(math.Ceil(float64(b.x1))),
		int(math.Ceil(float64(b.y1))),
	)
}

// path 以 origin 为原点写入路径
func (b box32) path(z *vector.Rasterizer, origin [2]float32, clockwise bool) {
	x0, y0 := b.x0-origin[0], b.y0-origin[1]
	x1, y1 := b.x1-origin[0], b.y1-origin[1]

	z.MoveTo(x0, y0)
	if clockwise {
		z.LineTo(x1, y0)
		z.LineTo(x1, y1)
		z.LineTo(x0, y1)
	} else {
		z.LineTo(x0, y1)
		z.LineTo(x1, y1)
		z.LineTo(x1, y0)
	}
	z.ClosePath()
}

// clip 把矩形限制在画布内，只影响栅格化，不改变叠加层中的坐标
func clip(x0, y0, x1, y1 float64, size image.Point) box32 {
	cx0 := math.Max(0, math.Min(x0, float64(size.X)))
	cy0 := math.Max(0, math.Min(y0, float64(size.Y)))
	cx1 := math.Max(cx0, math.Min(x1, float64(size.X)))
	cy1 := math.Max(cy0, math.Min(y1, float64(size.Y)))
	return box32{float32(cx0), float32(cy0), float32(cx1), float32(cy1)}
}

// drawText 在基线 (x, y) 处绘制文字，超出画布的部分被裁掉
func drawText(dst *image.RGBA, face font.Face, text string, x, y float64, c color.RGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(math.Round(x * 64)),
			Y: fixed.Int26_6(math.Round(y * 64)),
		},
	}
	d.DrawString(text)
}
