package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/echoshell/internal/database"
	"github.com/sshcollectorpro/echoshell/internal/echo"
	"github.com/sshcollectorpro/echoshell/internal/model"
)

func newRecorder(t *testing.T) *RunRecorder {
	t.Helper()
	cfg := testConfig(t, "")
	db, err := database.Open(cfg.Database.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewRunRecorder(db)
}

func TestRunRecorder_StartFinishGet(t *testing.T) {
	rec := newRecorder(t)
	run := &model.Run{ID: "run-1", Host: "sw1", Port: 22, Username: "admin", StartTime: time.Now()}
	require.NoError(t, rec.Start(run))

	got, err := rec.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Empty(t, got.Commands)

	run.Status = model.RunStatusSuccess
	run.Transcript = "SIM#display clock\r\n2024-01-01\r\nSIM#"
	run.EndTime = time.Now()
	require.NoError(t, rec.Finish(run, []*echo.Result{
		{Command: "display clock", Output: "2024-01-01\r\nSIM#", Duration: 120 * time.Millisecond},
		{Command: "", Skipped: true},
		{Command: "display log", TimedOut: true, Pages: 3, Truncated: true},
	}))

	got, err = rec.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, got.Status)
	assert.Equal(t, run.Transcript, got.Transcript)
	require.Len(t, got.Commands, 3)
	assert.Equal(t, 0, got.Commands[0].Seq)
	assert.EqualValues(t, 120, got.Commands[0].Duration)
	assert.True(t, got.Commands[1].Skipped)
	assert.True(t, got.Commands[2].TimedOut)
	assert.True(t, got.Commands[2].Truncated)
	assert.Equal(t, 3, got.Commands[2].Pages)
}

func TestRunRecorder_NotFound(t *testing.T) {
	rec := newRecorder(t)
	_, err := rec.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunRecorder_List(t *testing.T) {
	rec := newRecorder(t)
	base := time.Now()
	for i, host := range []string{"sw1", "sw2", "sw1"} {
		require.NoError(t, rec.Start(&model.Run{
			ID:         "run-" + string(rune('a'+i)),
			Host:       host,
			Transcript: "full text",
			StartTime:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	runs, err := rec.List("sw1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID, "按开始时间倒序")
	assert.Empty(t, runs[0].Transcript, "列表不返回全文")

	all, err := rec.List("", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
