package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogFileWritesToRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eduos.log")

	require.NoError(t, InitLogFile(Config{
		Severity: SeverityDebug,
		Format:   "json",
		FilePath: path,
		Rotate:   RotateConfig{MaxFileSizeMB: 1, BackupFileCount: 1},
	}))

	Infof("hello %s", "world")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "hello world")
}

func TestSetLogFormatSwitchesHandler(t *testing.T) {
	SetLogFormat("text")
	Infof("plain text line")
	SetLogFormat("json")
}
