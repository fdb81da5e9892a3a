package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/internal/model"
)

func TestOpen_MigratesRuns(t *testing.T) {
	conn, err := Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "sub", "test.db")})
	require.NoError(t, err)
	require.NoError(t, Health(conn))

	run := model.Run{
		ID:       "r1",
		Host:     "10.0.0.1",
		Port:     22,
		Username: "admin",
		Status:   model.RunStatusSuccess,
		Commands: []model.RunCommand{{Seq: 0, Command: "display version", Output: "V7"}},
	}
	require.NoError(t, conn.Create(&run).Error)

	var got model.Run
	require.NoError(t, conn.Preload("Commands").First(&got, "id = ?", "r1").Error)
	assert.Equal(t, "10.0.0.1", got.Host)
	require.Len(t, got.Commands, 1)
	assert.Equal(t, "V7", got.Commands[0].Output)
}

func TestHealth_NotInitialized(t *testing.T) {
	assert.Error(t, Health(nil))
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := WithRetry(nil, func(*gorm.DB) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, 5, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = WithRetry(nil, func(*gorm.DB) error {
		calls++
		return errors.New("constraint failed")
	}, 5, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "非锁错误不重试")
}
