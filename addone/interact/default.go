package interact

import "time"

// ShellProfile 平台回显特征，零值字段沿用全局配置
type ShellProfile struct {
	EndEcho  string
	MoreEcho string
	MoreCmd  string
	Encoding string
	Timeout  time.Duration
}

// PreludeInput 生成前置命令所需的元数据
type PreludeInput struct {
	EnablePassword string
	Metadata       map[string]interface{}
}

// InteractPlugin 交互插件接口
type InteractPlugin interface {
	// Name 插件名称（如：default、cisco_ios、huawei_s）
	Name() string
	// Profile 返回平台的回显特征
	Profile() ShellProfile
	// Prelude 在用户命令之前执行的命令（如进入特权模式）
	Prelude(in PreludeInput) []string
}

// DefaultPlugin 系统默认交互插件
type DefaultPlugin struct{}

func (p *DefaultPlugin) Name() string { return "default" }

func (p *DefaultPlugin) Profile() ShellProfile { return ShellProfile{} }

func (p *DefaultPlugin) Prelude(PreludeInput) []string { return nil }
