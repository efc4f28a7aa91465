package detection

import (
	"fmt"
	"sort"

	"vision-labeler/src/configs"
	"vision-labeler/src/core/utils"
)

// Config 检测服务实例配置
type Config struct {
	Name    string
	Type    string
	Options Options
	Data    map[string]interface{}
}

// Factory 检测服务工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Detector, error)

var (
	factories = make(map[string]Factory)
)

// Register 注册检测服务工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 按配置中选中的检测服务创建实例
func Create(config *configs.Config, logger *utils.Logger) (Detector, error) {
	name := config.SelectedDetector
	dc, ok := config.Detectors[name]
	if !ok {
		return nil, fmt.Errorf("未配置检测服务: %s", name)
	}

	typ := dc.ResolveType(name)

	factory, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("未知的检测服务类型: %s", typ)
	}

	detector, err := factory(&Config{
		Name: name,
		Type: typ,
		Options: Options{
			MaxLabels:     config.Detection.MaxLabels,
			MinConfidence: config.Detection.MinConfidence,
		},
		Data: dc.Extra,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("创建检测服务失败: %w", err)
	}

	logger.Debug("检测服务创建成功 %v", map[string]interface{}{
		"name": name,
		"type": typ,
	})

	return detector, nil
}

// GetRegisteredDetectors 获取已注册的检测服务类型
func GetRegisteredDetectors() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
