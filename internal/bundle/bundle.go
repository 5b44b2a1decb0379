// Package bundle packages an Appium test directory into the zip layout
// Device Farm accepts as a test package.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelsos/devicefarm-ci/internal/logger"
)

// createFile opens the zip being written.
var createFile = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// Create zips srcDir into destZip and returns the number of files written
func Create(srcDir, destZip string) (int, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read test directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", srcDir)
	}

	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return 0, fmt.Errorf("invalid test directory: %w", err)
	}
	absDest, err := filepath.Abs(destZip)
	if err != nil {
		return 0, fmt.Errorf("invalid bundle path: %w", err)
	}

	if dir := filepath.Dir(absDest); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create bundle directory: %w", err)
		}
	}

	zipFile, err := createFile(absDest)
	if err != nil {
		return 0, fmt.Errorf("failed to create bundle file: %w", err)
	}

	zipWriter := zip.NewWriter(zipFile)

	files := 0
	err = filepath.Walk(absSrc, func(path string, info os.FileInfo, err error) error {
		// The bundle may be written inside the directory being zipped.
		if path == absDest {
			return nil
		}
		added, addErr := addToZip(path, info, err, absSrc, zipWriter)
		if added {
			files++
		}
		return addErr
	})
	if err != nil {
		zipWriter.Close()
		zipFile.Close()
		return 0, fmt.Errorf("failed to create bundle: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		zipFile.Close()
		return 0, fmt.Errorf("failed to finalize bundle: %w", err)
	}

	if err := zipFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close bundle file: %w", err)
	}

	logger.Info("Test bundle created: %s (%d files)", destZip, files)
	return files, nil
}

func addToZip(path string, info os.FileInfo, err error, srcDir string, zipWriter *zip.Writer) (bool, error) {
	if err != nil {
		return false, err
	}

	if path == srcDir {
		return false, nil
	}

	relPath, err := filepath.Rel(srcDir, path)
	if err != nil {
		return false, fmt.Errorf("failed to get relative path: %w", err)
	}

	if !ShouldInclude(relPath, info.IsDir()) {
		if info.IsDir() {
			logger.Debug("Skipping directory: %s", relPath)
			return false, filepath.SkipDir
		}
		logger.Debug("Skipping file: %s", relPath)
		return false, nil
	}

	// Zip entries always use forward slashes.
	name := filepath.ToSlash(relPath)

	if info.IsDir() {
		_, err = zipWriter.Create(name + "/")
		return false, err
	}

	if !info.Mode().IsRegular() {
		logger.Debug("Skipping non-regular file: %s", relPath)
		return false, nil
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, fmt.Errorf("failed to create file header: %w", err)
	}

	header.Name = name
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return false, fmt.Errorf("failed to create file in zip: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return false, fmt.Errorf("failed to copy file contents: %w", err)
	}

	logger.Debug("Added file to bundle: %s", relPath)
	return true, nil
}

var excludedDirs = map[string]bool{
	"__pycache__":   true,
	".pytest_cache": true,
	"venv":          true,
	".venv":         true,
	"env":           true,
}

// ShouldInclude reports whether a path relative to the test directory belongs in the bundle
func ShouldInclude(relPath string, isDir bool) bool {
	components := strings.Split(relPath, string(filepath.Separator))
	for _, component := range components {
		if component == "" {
			continue
		}
		if strings.HasPrefix(component, ".") {
			return false
		}
		if excludedDirs[component] {
			return false
		}
	}

	if isDir {
		return true
	}

	base := components[len(components)-1]
	return !strings.HasSuffix(base, ".pyc") && !strings.HasSuffix(base, ".pyo")
}
