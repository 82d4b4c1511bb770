package testutil

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
)

// GetEnv reads key after loading the project .env, if there is one.
func GetEnv(key string) string {
	_ = godotenv.Load(filepath.Join(ProjectRoot(), ".env"))
	return os.Getenv(key)
}

// ProjectRoot walks up from this file to the directory holding go.mod.
func ProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}
