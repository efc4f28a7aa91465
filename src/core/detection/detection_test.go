package detection

import (
	"context"
	"errors"
	"testing"

	"vision-labeler/src/configs"
	"vision-labeler/src/core/utils"
)

type probeDetector struct {
	result ProbeResult
}

func (p *probeDetector) Detect(ctx context.Context, image []byte) ([]DetectedLabel, error) {
	return nil, nil
}

func (p *probeDetector) Probe(ctx context.Context) ProbeResult {
	return p.result
}

func newTestLogger(t *testing.T) (*configs.Config, *utils.Logger) {
	t.Helper()
	cfg := configs.Default()
	cfg.Log.LogDir = t.TempDir()
	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return cfg, logger
}

func TestLimit(t *testing.T) {
	labels := []DetectedLabel{
		{Name: "a", Confidence: 99},
		{Name: "b", Confidence: 69.9},
		{Name: "c", Confidence: 70},
		{Name: "d", Confidence: 85},
	}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{name: "过滤低置信度", opts: Options{MaxLabels: 10, MinConfidence: 70}, want: []string{"a", "c", "d"}},
		{name: "截断数量", opts: Options{MaxLabels: 2, MinConfidence: 70}, want: []string{"a", "c"}},
		{name: "不限数量", opts: Options{MinConfidence: 0}, want: []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Limit(labels, tt.opts)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, name := range tt.want {
				if got[i].Name != name {
					t.Errorf("got[%d] = %s, want %s", i, got[i].Name, name)
				}
			}
		})
	}
}

func TestHasBoxes(t *testing.T) {
	if (DetectedLabel{Name: "Outdoors"}).HasBoxes() {
		t.Errorf("没有实例的标签不应有边框")
	}
	if (DetectedLabel{Instances: []BoundingInstance{{}}}).HasBoxes() {
		t.Errorf("实例缺少边框时不应有边框")
	}
	if !(DetectedLabel{Instances: []BoundingInstance{{}, {Box: &NormalizedBox{}}}}).HasBoxes() {
		t.Errorf("应识别出边框")
	}
}

func TestFailedWrapsSentinel(t *testing.T) {
	err := Failed("stub", errors.New("network down"))
	if !errors.Is(err, ErrDetectionFailed) {
		t.Errorf("Failed() 未包装 ErrDetectionFailed: %v", err)
	}
}

func TestCreate(t *testing.T) {
	cfg, logger := newTestLogger(t)

	var got *Config
	Register("fake-test", func(config *Config, logger *utils.Logger) (Detector, error) {
		got = config
		return &probeDetector{}, nil
	})

	cfg.SelectedDetector = "primary"
	cfg.Detectors = map[string]configs.DetectorConfig{
		"primary": {Type: "fake-test", Extra: map[string]interface{}{"region": "eu-west-1"}},
	}

	if _, err := Create(cfg, logger); err != nil {
		t.Fatalf("Create 返回错误: %v", err)
	}
	if got.Options.MaxLabels != 10 || got.Options.MinConfidence != 70 {
		t.Errorf("Options = %+v, want {10 70}", got.Options)
	}
	if got.Data["region"] != "eu-west-1" {
		t.Errorf("Data = %v", got.Data)
	}

	cfg.Detectors["primary"] = configs.DetectorConfig{Type: "missing"}
	if _, err := Create(cfg, logger); err == nil {
		t.Errorf("未注册的类型应返回错误")
	}

	// 未设置 type 时按名称查找
	cfg.SelectedDetector = "fake-test"
	cfg.Detectors = map[string]configs.DetectorConfig{"fake-test": {}}
	if _, err := Create(cfg, logger); err != nil {
		t.Fatalf("未设置 type 时 Create 返回错误: %v", err)
	}
	if got.Type != "fake-test" || got.Name != "fake-test" {
		t.Errorf("Config = {%s %s}, 期望按名称解析类型", got.Name, got.Type)
	}
}

func TestCheckConnectivity(t *testing.T) {
	_, logger := newTestLogger(t)

	tests := []struct {
		name    string
		probe   ProbeResult
		success bool
	}{
		{name: "正常", probe: ProbeResult{Status: ProbeOK}, success: true},
		{name: "拒绝访问", probe: ProbeResult{Status: ProbeAccessDenied, Err: errors.New("denied")}},
		{name: "不可达", probe: ProbeResult{Status: ProbeUnreachable, Err: errors.New("timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CheckConnectivity(context.Background(), "stub", &probeDetector{result: tt.probe}, logger)
			if res.Success != tt.success {
				t.Errorf("Success = %v, want %v", res.Success, tt.success)
			}
			if res.Status != tt.probe.Status.String() {
				t.Errorf("Status = %s", res.Status)
			}
		})
	}
}
