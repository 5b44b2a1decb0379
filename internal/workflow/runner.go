// Package workflow drives a complete Device Farm test cycle for one CI build.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm/types"

	"github.com/kelsos/devicefarm-ci/internal/bundle"
	"github.com/kelsos/devicefarm-ci/internal/config"
	"github.com/kelsos/devicefarm-ci/internal/devicefarm"
	"github.com/kelsos/devicefarm-ci/internal/logger"
	"github.com/kelsos/devicefarm-ci/internal/poll"
	"github.com/kelsos/devicefarm-ci/internal/storage"
)

// ErrRunFailed is returned when the run completed but its result is not PASSED.
var ErrRunFailed = errors.New("test run did not pass")

// Downloader fetches a URL into a local file
type Downloader interface {
	Download(ctx context.Context, url, dest string) (string, error)
}

// Result describes a finished workflow
type Result struct {
	ProjectARN  string
	RunARN      string
	WebURL      string
	Passed      bool
	Run         *types.Run
	ResultsPath string
	Checksum    string
}

// Runner executes the CI sequence against Device Farm
type Runner struct {
	cfg        *config.Config
	client     *devicefarm.Client
	downloader Downloader
	observer   Observer
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customises a Runner
type Option func(*Runner)

// WithObserver registers an observer for progress events
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithClock replaces the wall clock and the settle-delay sleeper
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRunner creates a Runner for the given configuration
func NewRunner(cfg *config.Config, client *devicefarm.Client, downloader Downloader, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		client:     client,
		downloader: downloader,
		observer:   nopObserver{},
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) stage(stage Stage, message string, fn func() error) error {
	r.observer.StageStarted(stage, message)
	err := fn()
	r.observer.StageFinished(stage, err)
	return err
}

func (r *Runner) statusHook() poll.Option {
	return poll.WithStatusHook(r.observer.StatusChanged)
}

// Run uploads the build, runs the tests and downloads the results
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	startedAt := r.now()
	result := &Result{ResultsPath: r.cfg.ResultsPath}

	var devicePoolARN string
	err := r.stage(StageResolve, "Resolving project and device pool", func() error {
		projectARN, err := r.client.FindProjectARN(ctx, r.cfg.ProjectName)
		if err != nil {
			return err
		}
		logger.Info("Project: %s", projectARN)
		result.ProjectARN = projectARN

		devicePoolARN, err = r.client.FindDevicePoolARN(ctx, projectARN, r.cfg.DevicePoolName)
		if err != nil {
			return err
		}
		logger.Info("Device pool: %s", devicePoolARN)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.cfg.TestBundleDir != "" {
		err := r.stage(StageBundle, "Packaging test bundle", func() error {
			files, err := bundle.Create(r.cfg.TestBundleDir, r.cfg.TestPackagePath)
			if err != nil {
				return err
			}
			r.observer.Log(fmt.Sprintf("Packaged %d test files", files))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var appARN string
	err = r.stage(StageUploadApp, "Uploading app", func() error {
		var err error
		appARN, err = r.upload(ctx, result.ProjectARN, r.cfg.AppUploadType, r.cfg.AppUploadName(), r.cfg.AppPath)
		if err != nil {
			return err
		}
		logger.Info("App: %s", appARN)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var testPackageARN string
	err = r.stage(StageUploadTests, "Uploading test package", func() error {
		var err error
		testPackageARN, err = r.upload(ctx, result.ProjectARN, r.cfg.TestPackageType, r.cfg.TestPackageUploadName(), r.cfg.TestPackagePath)
		if err != nil {
			return err
		}
		logger.Info("Test package: %s", testPackageARN)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(StageSchedule, "Scheduling run", func() error {
		// Device Farm occasionally rejects a run scheduled right after the
		// test package reports SUCCEEDED.
		if err := r.sleep(ctx, r.cfg.ScheduleDelay); err != nil {
			return err
		}

		runARN, err := r.client.ScheduleRun(ctx, devicefarm.RunRequest{
			ProjectARN:     result.ProjectARN,
			Name:           r.cfg.RunName(),
			DevicePoolARN:  devicePoolARN,
			AppARN:         appARN,
			TestPackageARN: testPackageARN,
			TestType:       r.cfg.TestType,
		})
		if err != nil {
			return err
		}
		result.RunARN = runARN
		logger.Info("Scheduled test run %s", runARN)

		if webURL, err := r.client.WebURL(result.ProjectARN, runARN); err != nil {
			logger.Warn("Could not build console URL: %v", err)
		} else {
			result.WebURL = webURL
			logger.Info("View scheduled run at %s", webURL)
			r.observer.Log("Console: " + webURL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(StageRun, "Waiting for run to complete", func() error {
		passed, run, err := r.client.WaitForRun(ctx, result.RunARN, r.statusHook())
		result.Run = run
		if err != nil {
			return err
		}
		result.Passed = passed
		logger.Info("Run finished with result %s", run.Result)
		return nil
	})
	if err != nil {
		return result, err
	}

	err = r.stage(StageResults, "Downloading results", func() error {
		logger.Info("Retrieving %s for CI storage...", r.cfg.ResultsArtifactType)
		checksum, err := r.DownloadResults(ctx, result.RunARN, r.cfg.ResultsPath)
		if err != nil {
			return err
		}
		result.Checksum = checksum
		return nil
	})
	if err != nil {
		return result, err
	}

	if r.cfg.SummaryPath != "" {
		if err := storage.SaveRunSummary(r.cfg.SummaryPath, r.summary(result, startedAt)); err != nil {
			logger.Warn("Failed to write run summary: %v", err)
		} else {
			logger.Info("Run summary written to %s", r.cfg.SummaryPath)
		}
	}

	r.observer.StageStarted(StageComplete, "Done")
	var runErr error
	if !result.Passed {
		runErr = fmt.Errorf("run %s finished with result %s: %w", result.RunARN, result.Run.Result, ErrRunFailed)
	}
	r.observer.StageFinished(StageComplete, runErr)
	logger.Info("Done")

	return result, runErr
}

func (r *Runner) upload(ctx context.Context, projectARN, uploadType, name, path string) (string, error) {
	arn, err := r.client.CreateUpload(ctx, projectARN, uploadType, name, path)
	if err != nil {
		return "", err
	}
	if _, err := r.client.WaitForUpload(ctx, arn, r.statusHook()); err != nil {
		return "", err
	}
	return arn, nil
}

// DownloadResults saves the configured result artifact of a run to dest
func (r *Runner) DownloadResults(ctx context.Context, runARN, dest string) (string, error) {
	url, err := r.client.FindArtifactURL(ctx, runARN, r.cfg.ResultsArtifactType)
	if err != nil {
		return "", err
	}

	checksum, err := r.downloader.Download(ctx, url, dest)
	if err != nil {
		return "", fmt.Errorf("failed to download results: %w", err)
	}

	logger.Info("Results saved to %s", dest)
	return checksum, nil
}

func (r *Runner) summary(result *Result, startedAt time.Time) storage.RunSummary {
	summary := storage.RunSummary{
		RunARN:      result.RunARN,
		Name:        r.cfg.RunName(),
		ProjectARN:  result.ProjectARN,
		Passed:      result.Passed,
		WebURL:      result.WebURL,
		ResultsPath: result.ResultsPath,
		StartedAt:   startedAt,
		FinishedAt:  r.now(),
	}
	if result.Run != nil {
		summary.Status = string(result.Run.Status)
		summary.Result = string(result.Run.Result)
		summary.Counters = CountersFrom(result.Run.Counters)
	}
	return summary
}

// CountersFrom converts Device Farm counters into their stored form
func CountersFrom(c *types.Counters) storage.Counters {
	if c == nil {
		return storage.Counters{}
	}
	return storage.Counters{
		Total:   aws.ToInt32(c.Total),
		Passed:  aws.ToInt32(c.Passed),
		Failed:  aws.ToInt32(c.Failed),
		Errored: aws.ToInt32(c.Errored),
		Warned:  aws.ToInt32(c.Warned),
		Skipped: aws.ToInt32(c.Skipped),
		Stopped: aws.ToInt32(c.Stopped),
	}
}

// StagesFor lists the stages a runner built from cfg will go through
func StagesFor(cfg *config.Config) []Stage {
	stages := make([]Stage, 0, len(Stages))
	for _, stage := range Stages {
		if stage == StageBundle && cfg.TestBundleDir == "" {
			continue
		}
		stages = append(stages, stage)
	}
	return stages
}
