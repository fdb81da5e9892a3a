package h3c_msr

import (
	"time"

	"github.com/sshcollectorpro/echoshell/addone/interact"
)

// Plugin 为 h3c_msr 平台交互插件（H3C MSR 路由器）
type Plugin struct{}

func (p *Plugin) Name() string { return "h3c_msr" }

func (p *Plugin) Profile() interact.ShellProfile {
	// MSR 路由器命令较重，进一步提高超时
	return interact.ShellProfile{
		EndEcho:  ">,],?,:",
		MoreEcho: "---- More ----",
		MoreCmd:  " ",
		Encoding: "gbk",
		Timeout:  10 * time.Second,
	}
}

func (p *Plugin) Prelude(interact.PreludeInput) []string { return nil }

func init() { interact.Register("h3c_msr", &Plugin{}) }
