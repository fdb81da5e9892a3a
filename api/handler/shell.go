package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/internal/database"
	"github.com/sshcollectorpro/echoshell/internal/service"
	"github.com/sshcollectorpro/echoshell/pkg/logger"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ShellHandler 交互式 shell 批量执行处理器
type ShellHandler struct {
	shellService *service.ShellService
	// cfgFn 每次请求读取当前配置，支持热更新
	cfgFn func() *config.Config
	db    *gorm.DB
}

// NewShellHandler db 可为 nil（未启用执行记录）
func NewShellHandler(shellService *service.ShellService, cfgFn func() *config.Config, db *gorm.DB) *ShellHandler {
	return &ShellHandler{shellService: shellService, cfgFn: cfgFn, db: db}
}

// FrontDoor 执行 front_door 配置的固定命令列表
// @Summary 执行预置命令列表
// @Produce plain
// @Success 200 {string} string "会话全文"
// @Failure 500 {string} string "错误信息"
// @Router /ssh/run [get]
func (h *ShellHandler) FrontDoor(c *gin.Context) {
	fd := h.cfgFn().FrontDoor
	list := append([]string{fd.Username, fd.Password}, fd.Commands...)

	total, err := h.shellService.Executive(c.Request.Context(), fd.Host, fd.Port, list, fd.ExtraEnter)
	if err != nil {
		logger.WithField("host", fd.Host).Errorf("front door run failed: %v", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.String(http.StatusOK, total)
}

// ExecuteBatch 按请求执行命令列表
// @Summary 批量执行交互式命令
// @Accept json
// @Produce json
// @Param request body service.BatchRequest true "执行请求"
// @Success 200 {object} service.BatchResult
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 502 {object} ErrorResponse "设备登录失败"
// @Failure 500 {object} ErrorResponse "执行失败"
// @Router /api/v1/shell/batch [post]
func (h *ShellHandler) ExecuteBatch(c *gin.Context) {
	var request service.BatchRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	result, err := h.shellService.ExecuteBatch(c.Request.Context(), &request)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: err.Error()})
	case errors.Is(err, service.ErrLogin):
		c.JSON(http.StatusBadGateway, ErrorResponse{Code: "LOGIN_FAILED", Message: err.Error()})
	default:
		logger.WithField("host", request.Host).Errorf("batch failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "EXECUTION_FAILED", Message: err.Error()})
	}
}

// ListRuns 最近的执行记录
// @Router /api/v1/shell/runs [get]
func (h *ShellHandler) ListRuns(c *gin.Context) {
	rec := h.shellService.Recorder()
	if rec == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "RECORDING_DISABLED", Message: "执行记录未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := rec.List(c.Query("host"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: runs})
}

// GetRun 执行记录详情
// @Router /api/v1/shell/runs/{id} [get]
func (h *ShellHandler) GetRun(c *gin.Context) {
	rec := h.shellService.Recorder()
	if rec == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "RECORDING_DISABLED", Message: "执行记录未启用"})
		return
	}
	run, err := rec.Get(c.Param("id"))
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "RUN_NOT_FOUND", Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// Health 健康检查
// @Router /api/v1/health [get]
func (h *ShellHandler) Health(c *gin.Context) {
	data := gin.H{"database": "disabled"}
	if h.db != nil {
		if err := database.Health(h.db); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: "数据库不可用: " + err.Error()})
			return
		}
		data["database"] = "ok"
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "服务正常", Data: data})
}
