package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/echoshell/addone/interact"
	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/internal/echo"
	"github.com/sshcollectorpro/echoshell/internal/model"
	"github.com/sshcollectorpro/echoshell/internal/util"
	"github.com/sshcollectorpro/echoshell/pkg/logger"
)

var (
	ErrValidation = errors.New("invalid command list")
	ErrLogin      = errors.New("ssh login error")
)

// ShellOverrides 单次请求覆盖的回显解析参数
type ShellOverrides struct {
	// EndEcho 为 nil 时沿用配置；空串表示有任意输出即结束
	EndEcho     *string `json:"end_echo,omitempty"`
	MoreEcho    string  `json:"more_echo,omitempty"`
	MoreCmd     string  `json:"more_cmd,omitempty"`
	SleepTimeMS int     `json:"sleep_time_ms,omitempty"`
	TimeoutMS   int     `json:"timeout_ms,omitempty"`
	MaxPages    int     `json:"max_pages,omitempty"`
	Encoding    string  `json:"encoding,omitempty"`
}

// BatchRequest 一次批量执行请求
type BatchRequest struct {
	Host     string   `json:"host" binding:"required"`
	Port     int      `json:"port"`
	Username string   `json:"username" binding:"required"`
	Password string   `json:"password"`
	KeyFile  string   `json:"key_file,omitempty"`
	// Platform 设备平台（如 huawei_s、cisco_ios），决定回显特征与前置命令
	Platform       string   `json:"platform,omitempty"`
	EnablePassword string   `json:"enable_password,omitempty"`
	// Metadata 交给平台插件的附加参数（如 cisco_ios 的 enable=false）
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Commands       []string `json:"commands" binding:"required"`
	// ExtraEnter 需要额外回车的命令下标（基于 Commands，从 0 开始）
	ExtraEnter []int           `json:"extra_enter,omitempty"`
	Shell      *ShellOverrides `json:"shell,omitempty"`
	// Archive 为 nil 时沿用 archive.enabled
	Archive *bool `json:"archive,omitempty"`
}

// BatchResult 批量执行结果
type BatchResult struct {
	RunID      string         `json:"run_id"`
	Host       string         `json:"host"`
	Transcript string         `json:"transcript"`
	Commands   []*echo.Result `json:"commands"`
	Archive    *StoredObject  `json:"archive,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// ShellService 批量执行器：每次调用新建一个会话
type ShellService struct {
	cfg       *config.Config
	transport Transport
	recorder  *RunRecorder
	archive   StorageWriter
}

// NewShellService recorder 与 archive 可为 nil
func NewShellService(cfg *config.Config, transport Transport, recorder *RunRecorder, archive StorageWriter) *ShellService {
	return &ShellService{cfg: cfg, transport: transport, recorder: recorder, archive: archive}
}

// Recorder 执行记录存储，未启用时为 nil
func (s *ShellService) Recorder() *RunRecorder {
	return s.recorder
}

// Executive 执行 [用户名, 密码, 命令...] 形式的命令列表，返回会话全文。
// extraEnter 中的下标基于整个列表，命令从下标 2 开始。
func (s *ShellService) Executive(ctx context.Context, host string, port int, list []string, extraEnter []int) (string, error) {
	if len(list) < 3 {
		return "", fmt.Errorf("%w: need username, password and at least one command, got %d entries", ErrValidation, len(list))
	}
	var extra []int
	for _, idx := range extraEnter {
		if idx >= 2 && idx < len(list) {
			extra = append(extra, idx-2)
		}
	}
	res, err := s.ExecuteBatch(ctx, &BatchRequest{
		Host:       host,
		Port:       port,
		Username:   list[0],
		Password:   list[1],
		Commands:   list[2:],
		ExtraEnter: extra,
	})
	if err != nil {
		return "", err
	}
	return res.Transcript, nil
}

// ExecuteBatch 登录、逐条执行命令、关闭会话并返回全文
func (s *ShellService) ExecuteBatch(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	plugin, ok := interact.Lookup(req.Platform)
	if !ok {
		if strings.TrimSpace(req.Platform) != "" {
			return nil, fmt.Errorf("%w: unknown platform %q", ErrValidation, req.Platform)
		}
		plugin = interact.Get("default")
	}
	port := req.Port
	if port <= 0 {
		port = s.cfg.Shell.Port
	}
	sessCfg, err := s.sessionConfig(req, plugin.Profile(), port)
	if err != nil {
		return nil, err
	}
	prelude := plugin.Prelude(interact.PreludeInput{EnablePassword: req.EnablePassword, Metadata: req.Metadata})

	start := time.Now()
	run := &model.Run{
		ID:        uuid.NewString(),
		Host:      req.Host,
		Port:      port,
		Username:  req.Username,
		StartTime: start,
	}
	log := logger.ForHost(fmt.Sprintf("%s:%d", req.Host, port)).WithField("run_id", run.ID)
	if s.recorder != nil {
		if err := s.recorder.Start(run); err != nil {
			log.Warnf("record run start failed: %v", err)
		}
	}

	extra := make(map[int]bool, len(req.ExtraEnter))
	for _, idx := range req.ExtraEnter {
		extra[idx] = true
	}

	result := &BatchResult{RunID: run.ID, Host: req.Host}
	sess := NewSession(s.transport, sessCfg)
	if err := sess.Login(ctx, req.Username, req.Password); err != nil {
		_ = sess.Close()
		err = fmt.Errorf("%s %w: %v", req.Host, ErrLogin, err)
		log.Warn(err)
		s.finish(log, run, result, err)
		return nil, err
	}
	log.Infof("logged in, running %d commands", len(req.Commands))

	// 前置命令不计入结果，避免记录 enable 密码
	for i, cmd := range prelude {
		step := sess.Run
		if i > 0 {
			step = func(ctx context.Context, c string, _ bool) (*echo.Result, error) { return sess.RunMasked(ctx, c) }
		}
		if _, err := step(ctx, cmd, false); err != nil {
			result.Transcript = sess.Transcript()
			_ = sess.Close()
			err = fmt.Errorf("%s prelude step %d: %w", plugin.Name(), i, err)
			log.Warn(err)
			s.finish(log, run, result, err)
			return nil, err
		}
	}

	for i, cmd := range req.Commands {
		res, err := sess.Run(ctx, cmd, extra[i])
		if res != nil {
			result.Commands = append(result.Commands, res)
		}
		if err != nil {
			result.Transcript = sess.Transcript()
			_ = sess.Close()
			err = fmt.Errorf("command %d %q: %w", i, strings.TrimSpace(cmd), err)
			log.Warn(err)
			s.finish(log, run, result, err)
			return nil, err
		}
	}

	result.Transcript = sess.Transcript()
	if err := sess.Close(); err != nil {
		log.Debugf("close session: %v", err)
	}
	result.Duration = time.Since(start)

	if s.archiveEnabled(req) {
		obj, err := s.archive.Write(ctx, StorageMeta{Host: req.Host, RunID: run.ID, StartedAt: start}, result.Transcript)
		if err != nil {
			log.Warnf("archive transcript: %v", err)
		}
		if obj.URI != "" {
			result.Archive = &obj
			run.ArchiveKey = obj.URI
		}
	}

	s.finish(log, run, result, nil)
	log.Infof("batch finished in %s (%d bytes)", result.Duration.Round(time.Millisecond), len(result.Transcript))
	return result, nil
}

func (s *ShellService) finish(log *logrus.Entry, run *model.Run, result *BatchResult, runErr error) {
	if s.recorder == nil {
		return
	}
	run.EndTime = time.Now()
	run.Duration = run.EndTime.Sub(run.StartTime).Milliseconds()
	run.Transcript = result.Transcript
	run.Status = model.RunStatusSuccess
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.ErrorMsg = runErr.Error()
	}
	if err := s.recorder.Finish(run, result.Commands); err != nil {
		log.Warnf("record run finish failed: %v", err)
	}
}

func (s *ShellService) archiveEnabled(req *BatchRequest) bool {
	if s.archive == nil {
		return false
	}
	if req.Archive != nil {
		return *req.Archive
	}
	return s.cfg.Archive.Enabled
}

// validate 在任何网络动作之前检查请求
func validate(req *BatchRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrValidation)
	}
	if strings.TrimSpace(req.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrValidation)
	}
	if strings.TrimSpace(req.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	hasCommand := false
	for _, c := range req.Commands {
		if strings.TrimSpace(c) != "" {
			hasCommand = true
			break
		}
	}
	if !hasCommand {
		return fmt.Errorf("%w: no command to run", ErrValidation)
	}
	for _, idx := range req.ExtraEnter {
		if idx < 0 || idx >= len(req.Commands) {
			return fmt.Errorf("%w: extra_enter index %d out of range", ErrValidation, idx)
		}
	}
	return nil
}

// sessionConfig 依次合并全局配置、平台特征与请求覆盖项
func (s *ShellService) sessionConfig(req *BatchRequest, profile interact.ShellProfile, port int) (SessionConfig, error) {
	sc := s.cfg.Shell
	endEcho, moreEcho, moreCmd, encoding := sc.EndEcho, sc.MoreEcho, sc.MoreCmd, sc.Encoding
	opts := echo.Options{
		SleepTime:  sc.SleepTime,
		Timeout:    sc.Timeout,
		LineEnding: sc.LineEnding,
		Enter:      sc.Enter,
		MaxPages:   sc.MaxPages,
	}
	if profile.EndEcho != "" {
		endEcho = profile.EndEcho
	}
	if profile.MoreEcho != "" {
		moreEcho = profile.MoreEcho
	}
	if profile.MoreCmd != "" {
		moreCmd = profile.MoreCmd
	}
	if profile.Encoding != "" {
		encoding = profile.Encoding
	}
	if profile.Timeout > 0 {
		opts.Timeout = profile.Timeout
	}
	if o := req.Shell; o != nil {
		if o.EndEcho != nil {
			endEcho = *o.EndEcho
		}
		if o.MoreEcho != "" {
			moreEcho = o.MoreEcho
		}
		if o.MoreCmd != "" {
			moreCmd = o.MoreCmd
		}
		if o.Encoding != "" {
			encoding = o.Encoding
		}
		if o.SleepTimeMS > 0 {
			opts.SleepTime = time.Duration(o.SleepTimeMS) * time.Millisecond
		}
		if o.TimeoutMS > 0 {
			opts.Timeout = time.Duration(o.TimeoutMS) * time.Millisecond
		}
		if o.MaxPages > 0 {
			opts.MaxPages = o.MaxPages
		}
	}
	opts.MoreCmd = moreCmd

	decode, err := util.NewDecoder(encoding)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	patterns := sc.Filters
	if patterns == nil {
		patterns = echo.DefaultFilterPatterns
	}
	filter, err := echo.NewFilter(patterns, decode)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("shell.filters: %w", err)
	}
	return SessionConfig{
		Host:           req.Host,
		Port:           port,
		KeyFile:        req.KeyFile,
		Matcher:        echo.NewMatcher(endEcho, moreEcho),
		Filter:         filter,
		Options:        opts,
		ConnectTimeout: s.cfg.SSH.ConnectTimeout,
	}, nil
}
