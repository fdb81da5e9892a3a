package h3c_sr

import (
	"time"

	"github.com/sshcollectorpro/echoshell/addone/interact"
)

// Plugin 为 h3c_sr 平台交互插件（H3C SR 路由器）
type Plugin struct{}

func (p *Plugin) Name() string { return "h3c_sr" }

func (p *Plugin) Profile() interact.ShellProfile {
	return interact.ShellProfile{
		EndEcho:  ">,],?,:",
		MoreEcho: "---- More ----",
		MoreCmd:  " ",
		Encoding: "gbk",
		Timeout:  6 * time.Second,
	}
}

func (p *Plugin) Prelude(interact.PreludeInput) []string { return nil }

func init() { interact.Register("h3c_sr", &Plugin{}) }
