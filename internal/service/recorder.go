package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sshcollectorpro/echoshell/internal/database"
	"github.com/sshcollectorpro/echoshell/internal/echo"
	"github.com/sshcollectorpro/echoshell/internal/model"
)

var ErrRunNotFound = errors.New("run not found")

const recordAttempts = 5

// RunRecorder 执行记录持久化
type RunRecorder struct {
	db *gorm.DB
}

func NewRunRecorder(db *gorm.DB) *RunRecorder {
	return &RunRecorder{db: db}
}

// Start 写入 running 状态的执行记录
func (r *RunRecorder) Start(run *model.Run) error {
	run.Status = model.RunStatusRunning
	return database.WithRetry(r.db, func(tx *gorm.DB) error {
		return tx.Create(run).Error
	}, recordAttempts, 0)
}

// Finish 更新最终状态并写入逐条命令结果
func (r *RunRecorder) Finish(run *model.Run, results []*echo.Result) error {
	cmds := make([]model.RunCommand, 0, len(results))
	for i, res := range results {
		cmds = append(cmds, model.RunCommand{
			RunID:     run.ID,
			Seq:       i,
			Command:   res.Command,
			Output:    res.Output,
			TimedOut:  res.TimedOut,
			Truncated: res.Truncated,
			Skipped:   res.Skipped,
			Pages:     res.Pages,
			Duration:  res.Duration.Milliseconds(),
		})
	}
	return database.WithRetry(r.db, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&model.Run{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
				"status":      run.Status,
				"transcript":  run.Transcript,
				"error_msg":   run.ErrorMsg,
				"archive_key": run.ArchiveKey,
				"end_time":    run.EndTime,
				"duration":    run.Duration,
			}).Error; err != nil {
				return err
			}
			if len(cmds) == 0 {
				return nil
			}
			return tx.Create(&cmds).Error
		})
	}, recordAttempts, 0)
}

// Get 按 ID 读取执行记录及命令明细
func (r *RunRecorder) Get(id string) (*model.Run, error) {
	var run model.Run
	err := r.db.Preload("Commands", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List 最近的执行记录（不含全文与命令明细）
func (r *RunRecorder) List(host string, limit int) ([]model.Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := r.db.Model(&model.Run{}).Omit("transcript").Order("start_time DESC").Limit(limit)
	if host != "" {
		q = q.Where("host = ?", host)
	}
	var runs []model.Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
