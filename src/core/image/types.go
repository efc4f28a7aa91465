package image

// Info 图片基本信息
type Info struct {
	Format   string // 实际格式：jpeg, png, gif, webp, bmp, tiff
	Width    int
	Height   int
	FileSize int64
}

// Pixels 返回像素总数
func (i Info) Pixels() int64 {
	return int64(i.Width) * int64(i.Height)
}
