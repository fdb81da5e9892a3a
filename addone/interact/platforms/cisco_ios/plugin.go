package cisco_ios

import (
	"time"

	"github.com/sshcollectorpro/echoshell/addone/interact"
)

// Plugin 为 cisco_ios 平台交互插件
type Plugin struct{}

func (p *Plugin) Name() string { return "cisco_ios" }

func (p *Plugin) Profile() interact.ShellProfile {
	return interact.ShellProfile{
		EndEcho:  "#,>,:",
		MoreEcho: "--More--",
		MoreCmd:  " ",
		Encoding: "utf-8",
		Timeout:  6 * time.Second,
	}
}

// Prelude 提供 enable 密码时先进入特权模式；metadata["enable"]=false 可关闭
func (p *Plugin) Prelude(in interact.PreludeInput) []string {
	if v, ok := in.Metadata["enable"].(bool); ok && !v {
		return nil
	}
	if in.EnablePassword == "" {
		return nil
	}
	return []string{"enable", in.EnablePassword}
}

func init() {
	interact.Register("cisco_ios", &Plugin{})
}
