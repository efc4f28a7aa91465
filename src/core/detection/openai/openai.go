package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vision-labeler/src/core/detection"
	"vision-labeler/src/core/image"
	"vision-labeler/src/core/utils"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cast"
)

const defaultPrompt = `List the most prominent things in this image as JSON of the form
{"labels":[{"name":"Dog","confidence":92.5,"instances":[{"box":{"left":0.1,"top":0.2,"width":0.3,"height":0.4}}]}]}.
confidence is a percentage between 0 and 100. Box values are fractions of the image width and height,
measured from the top-left corner. Use an empty instances list for scene-level labels.
Return at most %d labels with confidence of at least %.0f, ordered from most to least confident. Reply with JSON only.`

// API go-openai 客户端中用到的方法
type API interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Detector 通过支持视觉的对话模型做标签检测
type Detector struct {
	client      API
	model       string
	prompt      string
	temperature float32
	opts        detection.Options
	logger      *utils.Logger
}

// New 使用现有客户端创建检测服务
func New(client API, model string, opts detection.Options, logger *utils.Logger) *Detector {
	return &Detector{
		client: client,
		model:  model,
		prompt: fmt.Sprintf(defaultPrompt, opts.MaxLabels, opts.MinConfidence),
		opts:   opts,
		logger: logger,
	}
}

// NewDetector 根据配置创建 OpenAI 兼容客户端（也可指向 Ollama 等兼容接口）
func NewDetector(config *detection.Config, logger *utils.Logger) (detection.Detector, error) {
	apiKey := cast.ToString(config.Data["api_key"])
	baseURL := cast.ToString(config.Data["url"])
	model := cast.ToString(config.Data["model_name"])
	if model == "" {
		model = openai.GPT4oMini
	}
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	d := New(openai.NewClientWithConfig(clientConfig), model, config.Options, logger)
	d.temperature = cast.ToFloat32(config.Data["temperature"])
	if prompt := cast.ToString(config.Data["prompt"]); prompt != "" {
		d.prompt = prompt
	}

	logger.Info("OpenAI 视觉检测服务初始化成功, model: %s", model)
	return d, nil
}

// Detect 发送图片与提示词，解析模型返回的 JSON
func (d *Detector) Detect(ctx context.Context, data []byte) ([]detection.DetectedLabel, error) {
	format := image.DetectFormat(data)
	if format == "" {
		format = "jpeg"
	}

	req := openai.ChatCompletionRequest{
		Model:       d.model,
		Temperature: d.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: d.prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(data)),
						},
					},
				},
			},
		},
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, detection.Failed("openai", err)
	}
	if len(resp.Choices) == 0 {
		return nil, detection.Failed("openai", errors.New("响应中没有候选结果"))
	}

	labels, err := ParseLabels(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, detection.Failed("openai", err)
	}

	d.logger.Debug("OpenAI 返回 %d 个标签", len(labels))
	return detection.Limit(labels, d.opts), nil
}

// Probe 列出模型以验证密钥
func (d *Detector) Probe(ctx context.Context) detection.ProbeResult {
	_, err := d.client.ListModels(ctx)
	if err == nil {
		return detection.ProbeResult{Status: detection.ProbeOK, Detail: "models listed"}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) &&
		(apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden) {
		return detection.ProbeResult{Status: detection.ProbeAccessDenied, Err: err}
	}
	return detection.ProbeResult{Status: detection.ProbeUnreachable, Err: err}
}

// ParseLabels 从模型回复中提取 JSON，容忍 <think> 段与代码块包裹
func ParseLabels(content string) ([]detection.DetectedLabel, error) {
	if i := strings.LastIndex(content, "</think>"); i >= 0 {
		content = content[i+len("</think>"):]
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("回复中没有JSON: %q", content)
	}

	var payload struct {
		Labels []detection.DetectedLabel `json:"labels"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("解析标签JSON失败: %w", err)
	}

	for i := range payload.Labels {
		if payload.Labels[i].Instances == nil {
			payload.Labels[i].Instances = []detection.BoundingInstance{}
		}
	}
	return payload.Labels, nil
}

// init 注册 OpenAI 检测服务
func init() {
	detection.Register("openai", NewDetector)
}
