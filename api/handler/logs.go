package handler

import (
	"bufio"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/echoshell/internal/config"
)

// LogsHandler 日志查询处理器
type LogsHandler struct {
	cfgFn func() *config.Config
}

func NewLogsHandler(cfgFn func() *config.Config) *LogsHandler { return &LogsHandler{cfgFn: cfgFn} }

// TailLogs 简易日志Tail查询（按关键字、级别、主机过滤，返回末尾N行）
// @Router /api/v1/logs [get]
func (h *LogsHandler) TailLogs(c *gin.Context) {
	cfg := h.cfgFn()
	if cfg == nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "CONFIG_MISSING", Message: "配置未初始化"})
		return
	}
	path := strings.TrimSpace(cfg.Log.FilePath)
	if out := strings.ToLower(strings.TrimSpace(cfg.Log.Output)); path == "" || out == "" || out == "stdout" || out == "console" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "LOG_FILE_DISABLED", Message: "未启用文件日志"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 || limit > 1000 { // 安全边界
		limit = 200
	}
	filter := lineFilter{
		q:     strings.ToLower(strings.TrimSpace(c.Query("q"))),
		level: strings.ToLower(strings.TrimSpace(c.Query("level"))),
		host:  strings.TrimSpace(c.Query("host")),
	}

	tail, err := tailLines(path, limit, filter.match)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "READ_FAILED", Message: "读取日志失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "获取日志成功",
		Data: gin.H{
			"path":  path,
			"count": len(tail),
			"lines": tail,
		},
	})
}

type lineFilter struct {
	q     string
	level string
	host  string
}

// match 适配 json/text 两种格式的简易匹配
func (f lineFilter) match(line string) bool {
	lc := strings.ToLower(line)
	if f.q != "" && !strings.Contains(lc, f.q) {
		return false
	}
	if f.level != "" && !strings.Contains(lc, `"level":"`+f.level+`"`) && !strings.Contains(lc, "level="+f.level) {
		return false
	}
	if f.host != "" && !strings.Contains(line, f.host) {
		return false
	}
	return true
}

// tailLines 逐行扫描，只保留满足条件的最后 limit 行
func tailLines(path string, limit int, keep func(string) bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, limit)
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // up to 10MB per line
	for s.Scan() {
		line := s.Text()
		if !keep(line) {
			continue
		}
		if len(ring) == limit {
			ring = append(ring[1:], line)
			continue
		}
		ring = append(ring, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}
