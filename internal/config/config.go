package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds all application configuration
type Config struct {
	// AWS settings
	Region         string
	ProjectName    string
	DevicePoolName string

	// Upload settings
	AppPath         string
	AppName         string
	AppUploadType   string
	TestPackagePath string
	TestPackageType string
	TestBundleDir   string

	// Run settings
	TestType      string
	BuildNumber   string
	ScheduleDelay time.Duration

	// Polling settings
	UploadTimeout time.Duration
	RunTimeout    time.Duration

	// Results settings
	ResultsArtifactType string
	ResultsPath         string
	SummaryPath         string
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Region:              "us-west-2",
		ProjectName:         "CircleCiTest",
		DevicePoolName:      "S6",
		AppPath:             "/tmp/workspace/apks/app-debug.apk",
		AppName:             "CircleCiTest.apk",
		AppUploadType:       "ANDROID_APP",
		TestPackagePath:     "test_bundle.zip",
		TestPackageType:     "APPIUM_PYTHON_TEST_PACKAGE",
		TestType:            "APPIUM_PYTHON",
		ScheduleDelay:       10 * time.Second,
		UploadTimeout:       10 * time.Second,
		RunTimeout:          20 * time.Minute,
		ResultsArtifactType: "APPIUM_PYTHON_XML_OUTPUT",
		ResultsPath:         "appium_results.xml",
	}
}

// LoadFromEnvironment loads configuration from environment variables
func (c *Config) LoadFromEnvironment() {
	if region := os.Getenv("DEVICEFARM_REGION"); region != "" {
		c.Region = region
	}

	if project := os.Getenv("DEVICEFARM_PROJECT"); project != "" {
		c.ProjectName = project
	}

	if pool := os.Getenv("DEVICEFARM_DEVICE_POOL"); pool != "" {
		c.DevicePoolName = pool
	}

	if appPath := os.Getenv("DEVICEFARM_APP_PATH"); appPath != "" {
		c.AppPath = appPath
	}

	if appName := os.Getenv("DEVICEFARM_APP_NAME"); appName != "" {
		c.AppName = appName
	}

	if appType := os.Getenv("DEVICEFARM_APP_TYPE"); appType != "" {
		c.AppUploadType = appType
	}

	if pkg := os.Getenv("DEVICEFARM_TEST_PACKAGE"); pkg != "" {
		c.TestPackagePath = pkg
	}

	// CircleCI sets this on every job.
	if build := os.Getenv("CIRCLE_BUILD_NUM"); build != "" {
		c.BuildNumber = build
	} else if build := os.Getenv("DEVICEFARM_BUILD_NUMBER"); build != "" {
		c.BuildNumber = build
	}

	if timeout := os.Getenv("DEVICEFARM_UPLOAD_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.UploadTimeout = d
		}
	}

	if timeout := os.Getenv("DEVICEFARM_RUN_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.RunTimeout = d
		}
	}

	if results := os.Getenv("DEVICEFARM_RESULTS_PATH"); results != "" {
		c.ResultsPath = results
	}

	if summary := os.Getenv("DEVICEFARM_SUMMARY_PATH"); summary != "" {
		c.SummaryPath = summary
	}
}

// EnsureBuildNumber fills in a local build number when CI did not provide one.
func (c *Config) EnsureBuildNumber() {
	if c.BuildNumber == "" {
		c.BuildNumber = "local-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
}

// AppUploadName is the file name Device Farm shows for the app upload.
func (c *Config) AppUploadName() string {
	return fmt.Sprintf("Build_%s_%s", c.BuildNumber, c.AppName)
}

// TestPackageUploadName is the file name Device Farm shows for the test package upload.
func (c *Config) TestPackageUploadName() string {
	return fmt.Sprintf("Build_%s_test_bundle.zip", c.BuildNumber)
}

// RunName is the name of the scheduled run.
func (c *Config) RunName() string {
	return fmt.Sprintf("Build %s", c.BuildNumber)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region cannot be empty")
	}

	if c.ProjectName == "" {
		return fmt.Errorf("project name cannot be empty")
	}

	if c.DevicePoolName == "" {
		return fmt.Errorf("device pool name cannot be empty")
	}

	if c.AppPath == "" {
		return fmt.Errorf("app path cannot be empty")
	}

	if c.AppName == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	if c.TestPackagePath == "" {
		return fmt.Errorf("test package path cannot be empty")
	}

	if c.UploadTimeout <= 0 {
		return fmt.Errorf("upload timeout must be positive, got: %v", c.UploadTimeout)
	}

	if c.RunTimeout <= 0 {
		return fmt.Errorf("run timeout must be positive, got: %v", c.RunTimeout)
	}

	if c.ScheduleDelay < 0 {
		return fmt.Errorf("schedule delay must be non-negative, got: %v", c.ScheduleDelay)
	}

	if c.ResultsPath == "" {
		return fmt.Errorf("results path cannot be empty")
	}

	return nil
}
