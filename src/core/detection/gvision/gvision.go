package gvision

import (
	"context"
	"fmt"
	"strings"

	"vision-labeler/src/core/detection"
	"vision-labeler/src/core/utils"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/spf13/cast"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// API ImageAnnotatorClient 中用到的方法
type API interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
}

// Detector 基于 Google Cloud Vision 的检测服务。
// 标签来自 LABEL_DETECTION，边框来自 OBJECT_LOCALIZATION，按名称合并。
type Detector struct {
	client API
	opts   detection.Options
	logger *utils.Logger
}

// New 使用现有客户端创建检测服务
func New(client API, opts detection.Options, logger *utils.Logger) *Detector {
	return &Detector{client: client, opts: opts, logger: logger}
}

// NewDetector 根据配置创建 Cloud Vision 客户端
func NewDetector(config *detection.Config, logger *utils.Logger) (detection.Detector, error) {
	var clientOpts []option.ClientOption
	if file := cast.ToString(config.Data["credentials_file"]); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	if endpoint := cast.ToString(config.Data["endpoint"]); endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(endpoint))
	}

	client, err := vision.NewImageAnnotatorClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("创建Cloud Vision客户端失败: %w", err)
	}

	logger.Info("Cloud Vision 检测服务初始化成功")
	return New(client, config.Options, logger), nil
}

// Detect 同时请求标签与物体定位
func (d *Detector) Detect(ctx context.Context, image []byte) ([]detection.DetectedLabel, error) {
	maxResults := int32(d.opts.MaxLabels)
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: image},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: maxResults},
					{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: maxResults},
				},
			},
		},
	}

	resp, err := d.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, detection.Failed("gvision", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, detection.Failed("gvision", fmt.Errorf("响应为空"))
	}

	res := resp.GetResponses()[0]
	if e := res.GetError(); e != nil && e.GetCode() != int32(codes.OK) {
		return nil, detection.Failed("gvision", fmt.Errorf("code %d: %s", e.GetCode(), e.GetMessage()))
	}

	labels := MergeAnnotations(res.GetLabelAnnotations(), res.GetLocalizedObjectAnnotations())
	d.logger.Debug("Cloud Vision 返回 %d 个标签, %d 个物体", len(res.GetLabelAnnotations()), len(res.GetLocalizedObjectAnnotations()))
	return detection.Limit(labels, d.opts), nil
}

// Probe 发送空请求，根据错误码判断认证情况
func (d *Detector) Probe(ctx context.Context) detection.ProbeResult {
	_, err := d.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{})
	switch status.Code(err) {
	case codes.OK, codes.InvalidArgument:
		return detection.ProbeResult{Status: detection.ProbeOK, Detail: "service reachable"}
	case codes.PermissionDenied, codes.Unauthenticated:
		return detection.ProbeResult{Status: detection.ProbeAccessDenied, Err: err}
	default:
		return detection.ProbeResult{Status: detection.ProbeUnreachable, Err: err}
	}
}

// MergeAnnotations 合并标签与物体定位结果。
// 物体按名称（忽略大小写）挂到同名标签下；没有同名标签的物体追加在末尾。
func MergeAnnotations(entities []*visionpb.EntityAnnotation, objects []*visionpb.LocalizedObjectAnnotation) []detection.DetectedLabel {
	labels := make([]detection.DetectedLabel, 0, len(entities))
	index := make(map[string]int, len(entities))

	for _, e := range entities {
		key := strings.ToLower(e.GetDescription())
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = len(labels)
		labels = append(labels, detection.DetectedLabel{
			Name:       e.GetDescription(),
			Confidence: float64(e.GetScore()) * 100,
			Instances:  []detection.BoundingInstance{},
		})
	}

	for _, obj := range objects {
		inst := detection.BoundingInstance{
			Box:        boxFromPoly(obj.GetBoundingPoly()),
			Confidence: float64(obj.GetScore()) * 100,
		}

		key := strings.ToLower(obj.GetName())
		i, ok := index[key]
		if !ok {
			i = len(labels)
			index[key] = i
			labels = append(labels, detection.DetectedLabel{
				Name:       obj.GetName(),
				Confidence: inst.Confidence,
			})
		}
		labels[i].Instances = append(labels[i].Instances, inst)
	}

	return labels
}

// boxFromPoly 用归一化顶点的外接矩形表示边框
func boxFromPoly(poly *visionpb.BoundingPoly) *detection.NormalizedBox {
	vertices := poly.GetNormalizedVertices()
	if len(vertices) == 0 {
		return nil
	}

	minX, minY := vertices[0].GetX(), vertices[0].GetY()
	maxX, maxY := minX, minY
	for _, v := range vertices[1:] {
		minX = min(minX, v.GetX())
		minY = min(minY, v.GetY())
		maxX = max(maxX, v.GetX())
		maxY = max(maxY, v.GetY())
	}

	return &detection.NormalizedBox{
		Left:   float64(minX),
		Top:    float64(minY),
		Width:  float64(maxX - minX),
		Height: float64(maxY - minY),
	}
}

// init 注册 Cloud Vision 检测服务
func init() {
	detection.Register("gvision", NewDetector)
}
