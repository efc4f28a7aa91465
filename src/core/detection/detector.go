package detection

import (
	"context"
	"errors"
	"fmt"
)

// ErrDetectionFailed 检测调用失败，内部细节只写日志，不暴露给用户
var ErrDetectionFailed = errors.New("label detection failed")

// Detector 标签检测客户端
type Detector interface {
	// Detect 同步调用远程服务，按服务返回的顺序给出标签
	Detect(ctx context.Context, image []byte) ([]DetectedLabel, error)
	// Probe 探测服务连通性与认证
	Probe(ctx context.Context) ProbeResult
}

// Failed 把底层错误包装成统一的检测失败
func Failed(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDetectionFailed, provider, err)
}

// Limit 按最低置信度过滤并截断到 MaxLabels，保持原有顺序
func Limit(labels []DetectedLabel, opts Options) []DetectedLabel {
	out := make([]DetectedLabel, 0, len(labels))
	for _, l := range labels {
		if l.Confidence < opts.MinConfidence {
			continue
		}
		if opts.MaxLabels > 0 && len(out) >= opts.MaxLabels {
			break
		}
		out = append(out, l)
	}
	return out
}
