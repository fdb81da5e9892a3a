package model

import (
	"time"
)

// Run 一次批量执行（一次登录会话）
type Run struct {
	ID         string       `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Host       string       `json:"host" gorm:"type:varchar(128);not null;index"`
	Port       int          `json:"port" gorm:"not null;default:22"`
	Username   string       `json:"username" gorm:"type:varchar(64);not null"`
	Status     string       `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	Transcript string       `json:"transcript" gorm:"type:text"`
	ErrorMsg   string       `json:"error_msg" gorm:"type:text"`
	ArchiveKey string       `json:"archive_key,omitempty" gorm:"type:varchar(512)"`
	StartTime  time.Time    `json:"start_time"`
	EndTime    time.Time    `json:"end_time"`
	Duration   int64        `json:"duration"` // 执行时长，毫秒
	Commands   []RunCommand `json:"commands,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Run) TableName() string {
	return "runs"
}

// RunStatus 执行状态枚举
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RunCommand 单条命令的执行记录
type RunCommand struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Seq       int       `json:"seq" gorm:"not null"`
	Command   string    `json:"command" gorm:"type:text;not null"`
	Output    string    `json:"output" gorm:"type:text"`
	TimedOut  bool      `json:"timed_out"`
	Truncated bool      `json:"truncated"`
	Skipped   bool      `json:"skipped"`
	Pages     int       `json:"pages"`
	Duration  int64     `json:"duration"` // 毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (RunCommand) TableName() string {
	return "run_commands"
}
