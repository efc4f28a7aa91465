package gvision

import (
	"context"
	"errors"
	"math"
	"testing"

	"vision-labeler/src/configs"
	"vision-labeler/src/core/detection"
	"vision-labeler/src/core/utils"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAPI struct {
	req  *visionpb.BatchAnnotateImagesRequest
	resp *visionpb.BatchAnnotateImagesResponse
	err  error
}

func (f *fakeAPI) BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.req = req
	return f.resp, f.err
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

func square(x0, y0, x1, y1 float32) *visionpb.BoundingPoly {
	return &visionpb.BoundingPoly{
		NormalizedVertices: []*visionpb.NormalizedVertex{
			{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
		},
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func TestMergeAnnotations(t *testing.T) {
	entities := []*visionpb.EntityAnnotation{
		{Description: "Dog", Score: 0.95},
		{Description: "Grass", Score: 0.8},
	}
	objects := []*visionpb.LocalizedObjectAnnotation{
		{Name: "dog", Score: 0.9, BoundingPoly: square(0.1, 0.2, 0.4, 0.6)},
		{Name: "Ball", Score: 0.72, BoundingPoly: square(0.5, 0.5, 0.6, 0.6)},
	}

	labels := MergeAnnotations(entities, objects)
	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}

	dog := labels[0]
	if dog.Name != "Dog" || !approx(dog.Confidence, 95) || len(dog.Instances) != 1 {
		t.Fatalf("Dog 合并错误: %+v", dog)
	}
	box := dog.Instances[0].Box
	if !approx(box.Left, 0.1) || !approx(box.Top, 0.2) || !approx(box.Width, 0.3) || !approx(box.Height, 0.4) {
		t.Errorf("box = %+v", box)
	}
	if len(labels[1].Instances) != 0 {
		t.Errorf("Grass 不应有实例")
	}
	if labels[2].Name != "Ball" || len(labels[2].Instances) != 1 {
		t.Errorf("未匹配的物体应追加在末尾: %+v", labels[2])
	}
}

func TestDetectFiltersAndCaps(t *testing.T) {
	api := &fakeAPI{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			LabelAnnotations: []*visionpb.EntityAnnotation{
				{Description: "Dog", Score: 0.95},
				{Description: "Blur", Score: 0.5},
				{Description: "Pet", Score: 0.9},
			},
		}},
	}}
	d := New(api, detection.Options{MaxLabels: 1, MinConfidence: 70}, newTestLogger(t))

	labels, err := d.Detect(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Detect 返回错误: %v", err)
	}
	if len(labels) != 1 || labels[0].Name != "Dog" {
		t.Errorf("labels = %+v, want only Dog", labels)
	}
	features := api.req.GetRequests()[0].GetFeatures()
	if len(features) != 2 || features[0].GetMaxResults() != 1 {
		t.Errorf("features = %v", features)
	}
}

func TestDetectErrors(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeAPI
	}{
		{name: "传输错误", api: &fakeAPI{err: errors.New("boom")}},
		{name: "空响应", api: &fakeAPI{resp: &visionpb.BatchAnnotateImagesResponse{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.api, detection.Options{MaxLabels: 10, MinConfidence: 70}, newTestLogger(t))
			if _, err := d.Detect(context.Background(), nil); !errors.Is(err, detection.ErrDetectionFailed) {
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
		{name: "参数错误视为可达", err: status.Error(codes.InvalidArgument, "no requests"), want: detection.ProbeOK},
		{name: "未认证", err: status.Error(codes.Unauthenticated, "no creds"), want: detection.ProbeAccessDenied},
		{name: "不可用", err: status.Error(codes.Unavailable, "down"), want: detection.ProbeUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(&fakeAPI{err: tt.err}, detection.Options{}, newTestLogger(t))
			if got := d.Probe(context.Background()).Status; got != tt.want {
				t.Errorf("Probe() = %v, want %v", got, tt.want)
			}
		})
	}
}
