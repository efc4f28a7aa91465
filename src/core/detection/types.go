package detection

// NormalizedBox 归一化边框，取值为图片宽高的比例，原点在左上角。
// 不做校验与截断，越界值原样参与像素换算。
type NormalizedBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundingInstance 标签的一个实例，Box 为空表示服务未给出边框
type BoundingInstance struct {
	Box        *NormalizedBox `json:"box,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

// DetectedLabel 检测到的标签，Confidence 取值 [0,100]
type DetectedLabel struct {
	Name       string             `json:"name"`
	Confidence float64            `json:"confidence"`
	Instances  []BoundingInstance `json:"instances"`
	Parents    []string           `json:"parents,omitempty"`
	Categories []string           `json:"categories,omitempty"`
}

// HasBoxes 是否至少有一个带边框的实例
func (l DetectedLabel) HasBoxes() bool {
	for _, inst := range l.Instances {
		if inst.Box != nil {
			return true
		}
	}
	return false
}

// Options 按部署固定的检测参数
type Options struct {
	MaxLabels     int
	MinConfidence float64
}

// ProbeStatus 连通性探测结论
type ProbeStatus int

const (
	// ProbeOK 服务可达且认证通过
	ProbeOK ProbeStatus = iota
	// ProbeAccessDenied 服务可达但认证失败
	ProbeAccessDenied
	// ProbeUnreachable 连接或其他错误
	ProbeUnreachable
)

func (s ProbeStatus) String() string {
	switch s {
	case ProbeOK:
		return "ok"
	case ProbeAccessDenied:
		return "access_denied"
	case ProbeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ProbeResult 连通性探测结果
type ProbeResult struct {
	Status ProbeStatus
	Detail string
	Err    error
}
