package labeler

// 页面上显示给用户的固定错误信息
const (
	MsgNoFile        = "Please upload an image file"
	MsgUploadFailed  = "Error uploading file"
	MsgAnalyzeFailed = "Error analyzing image"
	MsgFileTooLarge  = "File too large"
	MsgNotMultipart  = "Request must be multipart/form-data"
	MsgTooManyFiles  = "Unexpected field"
)

// PageData 页面渲染数据，Error 与 ProcessedImage 为空表示不存在
type PageData struct {
	Error          string
	Labels         []LabelView
	ProcessedImage string
}

// LabelView 页面上展示的单个标签
type LabelView struct {
	Name       string
	Confidence int // 四舍五入后的百分比
	Instances  int // 带边框的实例数量
	Parents    []string
	Color      string // 与标注图中边框一致的颜色
}

// uploadedImage 已保存的上传文件
type uploadedImage struct {
	Path     string
	Filename string
	Data     []byte
	Format   string
}
