package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vision-labeler/src/configs"
	"vision-labeler/src/core/detection"
	imageloader "vision-labeler/src/core/image"
	"vision-labeler/src/core/metrics"
	"vision-labeler/src/core/overlay"
	"vision-labeler/src/core/utils"
	"vision-labeler/src/labeler"

	// 导入所有检测服务以确保init函数被调用
	_ "vision-labeler/src/core/detection/gvision"
	_ "vision-labeler/src/core/detection/openai"
	_ "vision-labeler/src/core/detection/rekognition"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// 启动时连通性检查的超时时间
const probeTimeout = 10 * time.Second

func LoadConfigAndLogger() (*configs.Config, *utils.Logger, error) {
	// .env 需要在读取环境变量之前加载
	envErr := godotenv.Load()

	// 加载配置,默认使用.config.yaml
	config, configPath, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	config.ApplyEnv()

	// 初始化日志系统
	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	if configPath == "" {
		logger.Warn("未找到配置文件，使用默认配置")
	} else {
		logger.Info("日志系统初始化成功, 配置文件路径: %s", configPath)
	}
	if envErr != nil {
		logger.Warn("未找到 .env 文件，使用系统环境变量")
	}

	return config, logger, nil
}

// InitDetector 创建检测服务，并在后台检查连通性，检查结果只记录日志
func InitDetector(config *configs.Config, logger *utils.Logger, groupCtx context.Context) (detection.Detector, error) {
	detector, err := detection.Create(config, logger)
	if err != nil {
		return nil, err
	}

	go func() {
		ctx, cancel := context.WithTimeout(groupCtx, probeTimeout)
		defer cancel()
		detection.CheckConnectivity(ctx, config.SelectedDetector, detector, logger)
	}()

	return detector, nil
}

func StartHttpServer(config *configs.Config, logger *utils.Logger, detector detection.Detector, m *metrics.Metrics, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	// 初始化Gin引擎
	if config.Log.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.SetTrustedProxies(nil)

	// 启动标注服务
	renderer := overlay.NewRenderer(imageloader.NewLoader(&config.Image), logger)
	labelerService, err := labeler.NewDefaultLabelerService(config, logger, detector, renderer, m)
	if err != nil {
		logger.Error("标注服务初始化失败: %v", err)
		return nil, err
	}
	if err := labelerService.Start(groupCtx, router); err != nil {
		logger.Error("标注服务启动失败: %v", err)
		return nil, err
	}

	// HTTP Server（支持优雅关机）
	httpServer := &http.Server{
		Addr:    config.Addr(),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info("Gin 服务已启动，访问地址: http://%s", config.Addr())
		return serve(httpServer, "HTTP", logger, groupCtx)
	})

	return httpServer, nil
}

// StartMetricsServer 在独立端口暴露 /metrics，未配置地址时不启动
func StartMetricsServer(config *configs.Config, logger *utils.Logger, m *metrics.Metrics, g *errgroup.Group, groupCtx context.Context) *http.Server {
	if config.Metrics.Addr == "" {
		logger.Info("未配置 metrics.addr，跳过指标服务")
		return nil
	}

	metricsServer := m.NewServer(config.Metrics.Addr)
	g.Go(func() error {
		logger.Info("指标服务已启动，访问地址: http://%s/metrics", config.Metrics.Addr)
		return serve(metricsServer, "指标", logger, groupCtx)
	})
	return metricsServer
}

// serve 运行服务直到 groupCtx 结束，然后在 10 秒内优雅关闭
func serve(server *http.Server, name string, logger *utils.Logger, groupCtx context.Context) error {
	// 在单独的 goroutine 中监听关闭信号
	go func() {
		<-groupCtx.Done()
		logger.Info("收到关闭信号，开始关闭%s服务...", name)

		// 创建关闭超时上下文
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("%s服务关闭失败: %v", name, err)
		} else {
			logger.Info("%s服务已优雅关闭", name)
		}
	}()

	// ListenAndServe 返回 ErrServerClosed 时表示正常关闭
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("%s 服务启动失败: %v", name, err)
		return err
	}
	return nil
}

func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group) {
	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// 服务自身出错退出时不必再等待信号
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("接收到系统信号: %v，开始优雅关闭服务", sig)
	case err := <-done:
		if err != nil {
			logger.Error("服务异常退出: %v", err)
			os.Exit(1)
		}
		return
	}

	// 取消上下文，通知所有服务开始关闭
	cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("服务关闭过程中出现错误: %v", err)
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

func startServices(config *configs.Config, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) error {
	detector, err := InitDetector(config, logger, groupCtx)
	if err != nil {
		return fmt.Errorf("初始化检测服务失败: %w", err)
	}

	m := metrics.New()

	// 启动 Http 服务
	if _, err := StartHttpServer(config, logger, detector, m, g, groupCtx); err != nil {
		return fmt.Errorf("启动 Http 服务失败: %w", err)
	}

	StartMetricsServer(config, logger, m, g, groupCtx)
	return nil
}

func main() {
	// 加载配置和初始化日志系统
	config, logger, err := LoadConfigAndLogger()
	if err != nil {
		fmt.Println("加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("已注册的检测服务: %v, 当前使用: %s",
		detection.GetRegisteredDetectors(), config.SelectedDetector)

	// 创建可取消的上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 用 errgroup 管理 HTTP 与指标服务
	g, groupCtx := errgroup.WithContext(ctx)

	// 启动所有服务
	if err := startServices(config, logger, g, groupCtx); err != nil {
		logger.Error("启动服务失败: %v", err)
		cancel()
		os.Exit(1)
	}

	// 启动优雅关机处理
	GracefulShutdown(cancel, logger, g)

	logger.Info("程序已成功退出")
}
