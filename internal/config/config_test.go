package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "us-west-2", cfg.Region)
	assert.Equal(t, "CircleCiTest", cfg.ProjectName)
	assert.Equal(t, "S6", cfg.DevicePoolName)
	assert.Equal(t, 20*time.Minute, cfg.RunTimeout)
	assert.Equal(t, 10*time.Second, cfg.UploadTimeout)
	assert.Equal(t, "appium_results.xml", cfg.ResultsPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DEVICEFARM_REGION", "eu-west-1")
	t.Setenv("DEVICEFARM_PROJECT", "Nightly")
	t.Setenv("DEVICEFARM_DEVICE_POOL", "Pixels")
	t.Setenv("DEVICEFARM_APP_PATH", "build/app.apk")
	t.Setenv("DEVICEFARM_RUN_TIMEOUT", "45m")
	t.Setenv("DEVICEFARM_UPLOAD_TIMEOUT", "not-a-duration")
	t.Setenv("CIRCLE_BUILD_NUM", "1234")
	t.Setenv("DEVICEFARM_BUILD_NUMBER", "ignored")
	t.Setenv("DEVICEFARM_SUMMARY_PATH", "out/summary.json")

	cfg := NewConfig()
	cfg.LoadFromEnvironment()

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "Nightly", cfg.ProjectName)
	assert.Equal(t, "Pixels", cfg.DevicePoolName)
	assert.Equal(t, "build/app.apk", cfg.AppPath)
	assert.Equal(t, 45*time.Minute, cfg.RunTimeout)
	assert.Equal(t, 10*time.Second, cfg.UploadTimeout, "malformed values keep the default")
	assert.Equal(t, "1234", cfg.BuildNumber)
	assert.Equal(t, "out/summary.json", cfg.SummaryPath)
}

func TestLoadFromEnvironmentFallbackBuildNumber(t *testing.T) {
	t.Setenv("CIRCLE_BUILD_NUM", "")
	t.Setenv("DEVICEFARM_BUILD_NUMBER", "77")

	cfg := NewConfig()
	cfg.LoadFromEnvironment()

	assert.Equal(t, "77", cfg.BuildNumber)
}

func TestUploadNames(t *testing.T) {
	cfg := NewConfig()
	cfg.BuildNumber = "42"

	assert.Equal(t, "Build_42_CircleCiTest.apk", cfg.AppUploadName())
	assert.Equal(t, "Build_42_test_bundle.zip", cfg.TestPackageUploadName())
	assert.Equal(t, "Build 42", cfg.RunName())
}

func TestEnsureBuildNumber(t *testing.T) {
	cfg := NewConfig()
	cfg.EnsureBuildNumber()

	assert.True(t, strings.HasPrefix(cfg.BuildNumber, "local-"))
	assert.Len(t, cfg.BuildNumber, len("local-")+8)

	cfg.BuildNumber = "9"
	cfg.EnsureBuildNumber()
	assert.Equal(t, "9", cfg.BuildNumber)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty region", mutate: func(c *Config) { c.Region = "" }, wantErr: "region"},
		{name: "empty project", mutate: func(c *Config) { c.ProjectName = "" }, wantErr: "project name"},
		{name: "empty pool", mutate: func(c *Config) { c.DevicePoolName = "" }, wantErr: "device pool"},
		{name: "empty app", mutate: func(c *Config) { c.AppPath = "" }, wantErr: "app path"},
		{name: "empty package", mutate: func(c *Config) { c.TestPackagePath = "" }, wantErr: "test package"},
		{name: "zero upload timeout", mutate: func(c *Config) { c.UploadTimeout = 0 }, wantErr: "upload timeout"},
		{name: "negative run timeout", mutate: func(c *Config) { c.RunTimeout = -time.Second }, wantErr: "run timeout"},
		{name: "negative delay", mutate: func(c *Config) { c.ScheduleDelay = -time.Second }, wantErr: "schedule delay"},
		{name: "empty results path", mutate: func(c *Config) { c.ResultsPath = "" }, wantErr: "results path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvironmentReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEVICEFARM_PROJECT=FromDotEnv\n"), 0600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	// Register cleanup for the variable godotenv is about to set.
	t.Setenv("DEVICEFARM_PROJECT", "")
	require.NoError(t, os.Unsetenv("DEVICEFARM_PROJECT"))

	LoadEnvironment()

	assert.Equal(t, "FromDotEnv", os.Getenv("DEVICEFARM_PROJECT"))
}
