package detection

import (
	"context"
	"time"

	"vision-labeler/src/core/utils"
)

// CheckResult 启动时连通性检查结果
type CheckResult struct {
	Provider  string        `json:"provider"`
	Success   bool          `json:"success"`
	Status    string        `json:"status"`
	Error     error         `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// CheckConnectivity 探测检测服务并记录结论，结果只用于日志，不影响启动
func CheckConnectivity(ctx context.Context, provider string, d Detector, logger *utils.Logger) *CheckResult {
	start := time.Now()
	probe := d.Probe(ctx)

	result := &CheckResult{
		Provider:  provider,
		Success:   probe.Status == ProbeOK,
		Status:    probe.Status.String(),
		Error:     probe.Err,
		Duration:  time.Since(start),
		Timestamp: start,
	}

	switch probe.Status {
	case ProbeOK:
		logger.Info("检测服务 %s 连接正常: %s", provider, probe.Detail)
	case ProbeAccessDenied:
		logger.Error("检测服务 %s 拒绝访问，请检查凭证: %v", provider, probe.Err)
	default:
		logger.Error("检测服务 %s 连接失败: %v", provider, probe.Err)
	}

	return result
}
