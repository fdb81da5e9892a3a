package huawei_ce

import (
	"time"

	"github.com/sshcollectorpro/echoshell/addone/interact"
)

// Plugin 为 huawei_ce 平台交互插件（CE 系列数据中心交换机）
type Plugin struct{}

func (p *Plugin) Name() string { return "huawei_ce" }

func (p *Plugin) Profile() interact.ShellProfile {
	// CE 系列输出为 UTF-8，配置类命令较慢
	return interact.ShellProfile{
		EndEcho:  ">,],?,:",
		MoreEcho: "---- More ----",
		MoreCmd:  " ",
		Encoding: "utf-8",
		Timeout:  8 * time.Second,
	}
}

func (p *Plugin) Prelude(interact.PreludeInput) []string { return nil }

func init() {
	interact.Register("huawei_ce", &Plugin{})
}
