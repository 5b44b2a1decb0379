package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/kelsos/devicefarm-ci/internal/logger"
)

// LoadEnvironment loads variables from a .env file in the working directory
// and then from one next to the executable. godotenv never overrides
// variables that are already set, so the first file wins.
func LoadEnvironment() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded from current directory: %v", err)
	} else {
		logger.Info("Loaded .env file from current directory")
	}

	execPath, err := os.Executable()
	if err != nil {
		logger.Debug("Could not determine executable path: %v", err)
		return
	}

	execDir := filepath.Dir(execPath)
	if err := godotenv.Load(filepath.Join(execDir, ".env")); err != nil {
		logger.Debug("No .env file loaded from app directory (%s): %v", execDir, err)
	} else {
		logger.Info("Loaded .env file from app directory: %s", execDir)
	}
}
