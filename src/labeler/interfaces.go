package labeler

import (
	"context"

	"github.com/gin-gonic/gin"
)

// LabelerService 定义上传标注服务接口
type LabelerService interface {
	// 将页面、上传与静态文件路由注册到 engine
	Start(ctx context.Context, engine *gin.Engine) error
}
