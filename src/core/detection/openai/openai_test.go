package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"vision-labeler/src/configs"
	"vision-labeler/src/core/detection"
	"vision-labeler/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

type fakeAPI struct {
	req     openai.ChatCompletionRequest
	content string
	err     error
	listErr error
}

func (f *fakeAPI) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = request
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.content}},
		},
	}, nil
}

func (f *fakeAPI) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return openai.ModelsList{}, f.listErr
}

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	cfg := configs.Default()
	cfg.Log.LogDir = t.TempDir()
	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			name:    "纯JSON",
			content: `{"labels":[{"name":"Dog","confidence":91.7,"instances":[{"box":{"left":0.1,"top":0.1,"width":0.3,"height":0.4}}]}]}`,
			want:    1,
		},
		{
			name:    "代码块包裹",
			content: "```json\n{\"labels\":[{\"name\":\"Outdoors\",\"confidence\":80}]}\n```",
			want:    1,
		},
		{
			name:    "思考标签",
			content: `<think>{"labels":[]}</think>{"labels":[{"name":"Cat","confidence":88},{"name":"Sofa","confidence":75}]}`,
			want:    2,
		},
		{name: "没有JSON", content: "I can't see anything", wantErr: true},
		{name: "JSON损坏", content: `{"labels":[{"name":}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := ParseLabels(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLabels(%q) 应返回错误", tt.content)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLabels 返回错误: %v", err)
			}
			if len(labels) != tt.want {
				t.Errorf("len(labels) = %d, want %d", len(labels), tt.want)
			}
			for _, l := range labels {
				if l.Instances == nil {
					t.Errorf("%s: Instances 不应为 nil", l.Name)
				}
			}
		})
	}
}

func TestDetect(t *testing.T) {
	api := &fakeAPI{content: `{"labels":[{"name":"Dog","confidence":91.7,"instances":[{"box":{"left":0.1,"top":0.1,"width":0.3,"height":0.4}}]},{"name":"Blur","confidence":20}]}`}
	d := New(api, "gpt-4o-mini", detection.Options{MaxLabels: 10, MinConfidence: 70}, newTestLogger(t))

	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}
	labels, err := d.Detect(context.Background(), png)
	if err != nil {
		t.Fatalf("Detect 返回错误: %v", err)
	}
	if len(labels) != 1 || labels[0].Name != "Dog" {
		t.Fatalf("labels = %+v, want only Dog", labels)
	}
	if labels[0].Instances[0].Box.Height != 0.4 {
		t.Errorf("box = %+v", labels[0].Instances[0].Box)
	}

	parts := api.req.Messages[0].MultiContent
	if len(parts) != 2 || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("图片部分构造错误: %+v", parts)
	}
}

func TestDetectFailure(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeAPI
	}{
		{name: "接口错误", api: &fakeAPI{err: errors.New("rate limited")}},
		{name: "回复无法解析", api: &fakeAPI{content: "no idea"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.api, "m", detection.Options{MaxLabels: 10, MinConfidence: 70}, newTestLogger(t))
			if _, err := d.Detect(context.Background(), []byte("x")); !errors.Is(err, detection.ErrDetectionFailed) {
				t.Errorf("err = %v, want ErrDetectionFailed", err)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want detection.ProbeStatus
	}{
		{name: "正常", want: detection.ProbeOK},
		{name: "密钥无效", err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}, want: detection.ProbeAccessDenied},
		{name: "网络错误", err: errors.New("connection refused"), want: detection.ProbeUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(&fakeAPI{listErr: tt.err}, "m", detection.Options{}, newTestLogger(t))
			if got := d.Probe(context.Background()).Status; got != tt.want {
				t.Errorf("Probe() = %v, want %v", got, tt.want)
			}
		})
	}
}
