package main

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReap_NothingToReapExitsCleanly(t *testing.T) {
	prevSlog, prevLog := slog.Default(), log.Writer()
	prevOut, prevErr := gin.DefaultWriter, gin.DefaultErrorWriter
	t.Cleanup(func() {
		slog.SetDefault(prevSlog)
		log.SetOutput(prevLog)
		gin.DefaultWriter, gin.DefaultErrorWriter = prevOut, prevErr
	})

	t.Chdir(t.TempDir())
	logDir := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LOG_DIR", logDir)
	t.Setenv("USER_STORE", "memory")
	t.Setenv("SESSION_STORE", "memory")

	assert.Equal(t, 0, reap())

	raw, err := os.ReadFile(filepath.Join(logDir, "worker.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "session store has no rows to reap")
}
