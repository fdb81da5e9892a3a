package echo

import "errors"

var (
	// ErrChannel 交互通道不可写或已存在活动通道
	ErrChannel = errors.New("shell channel error")
	// ErrDecode 单个回显片段解码失败；读取协程只记录并丢弃，不向上传播
	ErrDecode = errors.New("echo decode error")
	// ErrCommandTimeout 单条命令等待提示符超时；仅用于日志与结果标记
	ErrCommandTimeout = errors.New("command timeout")
)
