package rekognition

import (
	"context"
	"errors"
	"fmt"

	"vision-labeler/src/core/detection"
	"vision-labeler/src/core/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/spf13/cast"
)

// probeCollection 探测用的集合名，不存在时服务返回 ResourceNotFound，说明连接与认证均正常
const probeCollection = "test"

// API Rekognition 客户端中用到的方法
type API interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DescribeCollection(ctx context.Context, params *rekognition.DescribeCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.DescribeCollectionOutput, error)
}

// Detector 基于 AWS Rekognition DetectLabels 的检测服务
type Detector struct {
	client API
	opts   detection.Options
	logger *utils.Logger
}

// New 使用现有客户端创建检测服务
func New(client API, opts detection.Options, logger *utils.Logger) *Detector {
	return &Detector{
		client: client,
		opts:   opts,
		logger: logger,
	}
}

// NewDetector 根据配置创建 Rekognition 客户端
func NewDetector(config *detection.Config, logger *utils.Logger) (detection.Detector, error) {
	region := cast.ToString(config.Data["region"])
	accessKey := cast.ToString(config.Data["access_key_id"])
	secretKey := cast.ToString(config.Data["secret_access_key"])
	sessionToken := cast.ToString(config.Data["session_token"])
	endpoint := cast.ToString(config.Data["endpoint"])

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("加载AWS配置失败: %w", err)
	}

	client := rekognition.NewFromConfig(awsCfg, func(o *rekognition.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	logger.Info("Rekognition 检测服务初始化成功, region: %s", awsCfg.Region)
	return New(client, config.Options, logger), nil
}

// Detect 调用 DetectLabels
func (d *Detector) Detect(ctx context.Context, image []byte) ([]detection.DetectedLabel, error) {
	input := &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MinConfidence: aws.Float32(float32(d.opts.MinConfidence)),
	}
	if d.opts.MaxLabels > 0 {
		input.MaxLabels = aws.Int32(int32(d.opts.MaxLabels))
	}

	out, err := d.client.DetectLabels(ctx, input)
	if err != nil {
		return nil, detection.Failed("rekognition", err)
	}

	d.logger.Debug("Rekognition 返回 %d 个标签", len(out.Labels))
	return ConvertLabels(out.Labels), nil
}

// Probe 通过 DescribeCollection 判断连通性
func (d *Detector) Probe(ctx context.Context) detection.ProbeResult {
	_, err := d.client.DescribeCollection(ctx, &rekognition.DescribeCollectionInput{
		CollectionId: aws.String(probeCollection),
	})
	if err == nil {
		return detection.ProbeResult{Status: detection.ProbeOK, Detail: "collection found"}
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return detection.ProbeResult{Status: detection.ProbeOK, Detail: "ResourceNotFoundException is expected"}
	}

	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return detection.ProbeResult{Status: detection.ProbeAccessDenied, Err: err}
	}

	return detection.ProbeResult{Status: detection.ProbeUnreachable, Err: err}
}

// ConvertLabels 把 Rekognition 标签转换为内部结构，保持服务返回顺序
func ConvertLabels(labels []types.Label) []detection.DetectedLabel {
	result := make([]detection.DetectedLabel, 0, len(labels))
	for _, l := range labels {
		label := detection.DetectedLabel{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
			Instances:  make([]detection.BoundingInstance, 0, len(l.Instances)),
		}

		for _, inst := range l.Instances {
			bi := detection.BoundingInstance{
				Confidence: float64(aws.ToFloat32(inst.Confidence)),
			}
			if inst.BoundingBox != nil {
				bi.Box = &detection.NormalizedBox{
					Left:   float64(aws.ToFloat32(inst.BoundingBox.Left)),
					Top:    float64(aws.ToFloat32(inst.BoundingBox.Top)),
					Width:  float64(aws.ToFloat32(inst.BoundingBox.Width)),
					Height: float64(aws.ToFloat32(inst.BoundingBox.Height)),
				}
			}
			label.Instances = append(label.Instances, bi)
		}

		for _, p := range l.Parents {
			label.Parents = append(label.Parents, aws.ToString(p.Name))
		}
		for _, c := range l.Categories {
			label.Categories = append(label.Categories, aws.ToString(c.Name))
		}

		result = append(result, label)
	}
	return result
}

// init 注册 Rekognition 检测服务
func init() {
	detection.Register("rekognition", NewDetector)
}
