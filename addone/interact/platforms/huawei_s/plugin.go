package huawei_s

import "github.com/sshcollectorpro/echoshell/addone/interact"

// Plugin 为 huawei_s 平台交互插件（S 系列交换机）
type Plugin struct{}

func (p *Plugin) Name() string { return "huawei_s" }

func (p *Plugin) Profile() interact.ShellProfile {
	// 用户视图 <HOST>，系统视图 [HOST]
	return interact.ShellProfile{
		EndEcho:  ">,],?,:",
		MoreEcho: "---- More ----",
		MoreCmd:  " ",
		Encoding: "gbk",
	}
}

func (p *Plugin) Prelude(interact.PreludeInput) []string { return nil }

func init() {
	interact.Register("huawei_s", &Plugin{})
}
