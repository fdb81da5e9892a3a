package h3c_s

import "github.com/sshcollectorpro/echoshell/addone/interact"

// Plugin 为 h3c_s 平台交互插件（H3C S 系列交换机）
type Plugin struct{}

func (p *Plugin) Name() string { return "h3c_s" }

func (p *Plugin) Profile() interact.ShellProfile {
	return interact.ShellProfile{
		EndEcho:  ">,],?,:",
		MoreEcho: "---- More ----",
		MoreCmd:  " ",
		Encoding: "gbk",
	}
}

func (p *Plugin) Prelude(interact.PreludeInput) []string { return nil }

func init() { interact.Register("h3c_s", &Plugin{}) }
