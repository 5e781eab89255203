package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the directory for ragserve log files.
// Honors RAGSERVE_LOG_DIR, otherwise uses ~/.ragserve/logs.
func DefaultLogDir() string {
	if dir := os.Getenv("RAGSERVE_LOG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ragserve", "logs")
	}
	return filepath.Join(home, ".ragserve", "logs")
}

// DefaultLogPath returns the default server log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
