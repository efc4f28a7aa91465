package labeler

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"vision-labeler/src/configs"
	"vision-labeler/src/core/detection"
	imageloader "vision-labeler/src/core/image"
	"vision-labeler/src/core/metrics"
	"vision-labeler/src/core/overlay"
	"vision-labeler/src/core/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// 上传文件字段名
	fileField = "image"
	// 解析 multipart 时保存在内存中的最大字节数，其余写入临时文件
	maxMemory = 8 << 20
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer 生成标注图，失败时返回 ok=false
type Renderer interface {
	Render(imagePath string, labels []detection.DetectedLabel) (string, bool)
}

type DefaultLabelerService struct {
	logger   *utils.Logger
	config   *configs.Config
	detector detection.Detector
	renderer Renderer
	metrics  *metrics.Metrics
}

// NewDefaultLabelerService 构造函数
func NewDefaultLabelerService(config *configs.Config, logger *utils.Logger, detector detection.Detector, renderer Renderer, m *metrics.Metrics) (*DefaultLabelerService, error) {
	if detector == nil {
		return nil, fmt.Errorf("检测服务未初始化")
	}
	if renderer == nil {
		renderer = overlay.NewRenderer(imageloader.NewLoader(&config.Image), logger)
	}
	if m == nil {
		m = metrics.New()
	}

	// 确保上传目录存在
	if err := os.MkdirAll(config.Storage.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %v", err)
	}

	return &DefaultLabelerService{
		logger:   logger,
		config:   config,
		detector: detector,
		renderer: renderer,
		metrics:  m,
	}, nil
}

// Templates 解析内嵌页面模板
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"join":    strings.Join,
		"safeCSS": func(s string) template.CSS { return template.CSS(s) },
	}).ParseFS(templateFS, "templates/*.html")
}

// Start 实现 LabelerService 接口，注册页面、上传与静态文件路由
func (s *DefaultLabelerService) Start(ctx context.Context, engine *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return fmt.Errorf("解析页面模板失败: %w", err)
	}
	engine.SetHTMLTemplate(tmpl)

	engine.GET("/", s.handleIndex)
	engine.POST("/upload", s.handleUpload)
	engine.Static(s.config.Storage.URLPrefix, s.config.Storage.UploadDir)

	s.logger.Info("标注服务路由注册完成, 上传目录: %s", s.config.Storage.UploadDir)
	return nil
}

// handleIndex 渲染初始空页面
func (s *DefaultLabelerService) handleIndex(c *gin.Context) {
	s.render(c, http.StatusOK, PageData{})
}

// handleUpload 处理上传：保存 → 检测 → 标注 → 渲染
func (s *DefaultLabelerService) handleUpload(c *gin.Context) {
	img, status, msg := s.receiveUpload(c)
	if img == nil {
		s.render(c, status, PageData{Error: msg})
		return
	}

	s.logger.Debug("收到图片上传 %v", map[string]interface{}{
		"path":   img.Path,
		"size":   len(img.Data),
		"format": img.Format,
	})

	start := time.Now()
	labels, err := s.detector.Detect(c.Request.Context(), img.Data)
	if err != nil {
		s.metrics.ObserveDetect(start, -1)
		s.metrics.ObserveUpload(metrics.OutcomeDetectFailed)
		s.logger.Error("图片分析失败: %v", err)
		s.render(c, http.StatusInternalServerError, PageData{Error: MsgAnalyzeFailed})
		return
	}
	s.metrics.ObserveDetect(start, len(labels))

	// 标注图失败不影响标签展示
	start = time.Now()
	processed, ok := s.renderer.Render(img.Path, labels)
	s.metrics.ObserveOverlay(start, ok)

	page := PageData{Labels: labelViews(labels)}
	if ok {
		page.ProcessedImage = s.assetURL(processed)
	} else {
		s.logger.Warn("标注图生成失败，仅展示标签: %s", img.Path)
	}

	s.metrics.ObserveUpload(metrics.OutcomeSuccess)
	s.logger.Info("图片分析完成: %s, 标签数: %d", img.Filename, len(labels))
	s.render(c, http.StatusOK, page)
}

// receiveUpload 解析表单并保存文件，失败时返回状态码与给用户的信息
func (s *DefaultLabelerService) receiveUpload(c *gin.Context) (*uploadedImage, int, string) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.Storage.MaxUploadSize)

	if err := c.Request.ParseMultipartForm(maxMemory); err != nil {
		s.metrics.ObserveUpload(metrics.OutcomeUploadError)
		s.logger.Warn("解析multipart表单失败: %v", err)
		return nil, http.StatusBadRequest, transportMessage(err)
	}

	// 只接受 image 字段中的单个文件
	for field := range c.Request.MultipartForm.File {
		if field != fileField {
			s.metrics.ObserveUpload(metrics.OutcomeUploadError)
			s.logger.Warn("收到未知的文件字段: %s", field)
			return nil, http.StatusBadRequest, MsgTooManyFiles
		}
	}

	files := c.Request.MultipartForm.File[fileField]
	if len(files) == 0 {
		s.metrics.ObserveUpload(metrics.OutcomeNoFile)
		return nil, http.StatusBadRequest, MsgNoFile
	}
	if len(files) > 1 {
		s.metrics.ObserveUpload(metrics.OutcomeUploadError)
		s.logger.Warn("字段 %s 中有 %d 个文件", fileField, len(files))
		return nil, http.StatusBadRequest, MsgTooManyFiles
	}

	img, err := s.saveUpload(files[0])
	if err != nil {
		s.metrics.ObserveUpload(metrics.OutcomeUploadError)
		s.logger.Error("保存上传文件失败: %v", err)
		return nil, http.StatusInternalServerError, MsgUploadFailed
	}
	return img, http.StatusOK, ""
}

// saveUpload 以 字段名-时间戳-随机串+原扩展名 保存上传文件
func (s *DefaultLabelerService) saveUpload(header *multipart.FileHeader) (*uploadedImage, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}

	format := imageloader.DetectFormat(data)
	filename := UploadFilename(fileField, header.Filename, format, time.Now())
	p := filepath.Join(s.config.Storage.UploadDir, filename)

	if err := os.WriteFile(p, data, 0644); err != nil {
		return nil, fmt.Errorf("写入上传文件失败: %w", err)
	}

	s.logger.Info("图片已保存到: %s", p)
	return &uploadedImage{Path: p, Filename: filename, Data: data, Format: format}, nil
}

// UploadFilename 生成不重复的文件名；原文件没有扩展名时按文件头推断
func UploadFilename(field, originalName, format string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if ext == "" || ext == "." {
		ext = imageloader.Extension(format)
	}
	return fmt.Sprintf("%s-%d-%s%s", field, now.UnixNano(), uuid.NewString()[:8], ext)
}

// assetURL 把上传目录中的文件映射为静态访问地址
func (s *DefaultLabelerService) assetURL(p string) string {
	return path.Join(s.config.Storage.URLPrefix, filepath.Base(p))
}

func (s *DefaultLabelerService) render(c *gin.Context, status int, page PageData) {
	if page.Labels == nil {
		page.Labels = []LabelView{}
	}
	c.HTML(status, "index.html", page)
}

// transportMessage 把表单解析错误转换为给用户看的信息
func transportMessage(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return MsgFileTooLarge
	case errors.Is(err, http.ErrNotMultipart):
		return MsgNotMultipart
	default:
		return MsgUploadFailed
	}
}

// labelViews 转换为页面展示结构，颜色与标注图中的边框一致
func labelViews(labels []detection.DetectedLabel) []LabelView {
	views := make([]LabelView, 0, len(labels))
	for i, l := range labels {
		count := 0
		for _, inst := range l.Instances {
			if inst.Box != nil {
				count++
			}
		}
		col := overlay.ColorFor(i)
		views = append(views, LabelView{
			Name:       l.Name,
			Confidence: int(math.Round(l.Confidence)),
			Instances:  count,
			Parents:    l.Parents,
			Color:      fmt.Sprintf("#%02X%02X%02X", col.R, col.G, col.B),
		})
	}
	return views
}
