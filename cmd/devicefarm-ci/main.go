package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdevicefarm "github.com/aws/aws-sdk-go-v2/service/devicefarm"
	"github.com/spf13/cobra"

	"github.com/kelsos/devicefarm-ci/internal/bundle"
	"github.com/kelsos/devicefarm-ci/internal/config"
	"github.com/kelsos/devicefarm-ci/internal/devicefarm"
	"github.com/kelsos/devicefarm-ci/internal/logger"
	"github.com/kelsos/devicefarm-ci/internal/storage"
	"github.com/kelsos/devicefarm-ci/internal/transfer"
	"github.com/kelsos/devicefarm-ci/internal/tui"
	"github.com/kelsos/devicefarm-ci/internal/workflow"
)

func newClient(ctx context.Context, cfg *config.Config) (*devicefarm.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return devicefarm.NewClient(awsdevicefarm.NewFromConfig(awsCfg), transfer.NewClient(nil), cfg.Region, devicefarm.Options{
		UploadTimeout: cfg.UploadTimeout,
		RunTimeout:    cfg.RunTimeout,
	}), nil
}

func runWorkflow(ctx context.Context, cfg *config.Config, withTUI bool) error {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	if !withTUI {
		result, err := workflow.NewRunner(cfg, client, transfer.NewClient(nil)).Run(ctx)
		reportResult(result)
		return err
	}

	logPath, err := logger.InitFileOnly()
	if err != nil {
		return err
	}
	defer logger.Close()

	monitor := tui.NewWorkflowMonitor(workflow.StagesFor(cfg), logPath)
	runner := workflow.NewRunner(cfg, client, transfer.NewClient(nil), workflow.WithObserver(monitor))

	var result *workflow.Result
	err = monitor.Run(ctx, func(ctx context.Context) error {
		var runErr error
		result, runErr = runner.Run(ctx)
		return runErr
	})

	// The TUI owned the terminal until now.
	logger.Init()
	reportResult(result)
	return err
}

func reportResult(result *workflow.Result) {
	if result == nil || result.RunARN == "" {
		return
	}
	logger.Info("Run: %s", result.RunARN)
	if result.WebURL != "" {
		logger.Info("Console: %s", result.WebURL)
	}
	if result.Run != nil {
		logger.Info("Status %s, result %s (%s)", result.Run.Status, result.Run.Result, devicefarm.FormatCounters(result.Run.Counters))
	}
}

// runARNFrom takes the run ARN from the arguments or from a saved summary
func runARNFrom(args []string, summaryPath string) (string, *storage.RunSummary, error) {
	if len(args) > 0 {
		return args[0], nil, nil
	}
	if summaryPath == "" {
		return "", nil, errors.New("a run ARN or --summary is required")
	}
	summary, err := storage.LoadRunSummary(summaryPath)
	if err != nil {
		return "", nil, err
	}
	return summary.RunARN, summary, nil
}

func main() {
	config.LoadEnvironment()
	logger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.NewConfig()
	cfg.LoadFromEnvironment()

	var withTUI bool

	rootCmd := &cobra.Command{
		Use:   "devicefarm-ci",
		Short: "Run a build's Appium tests on AWS Device Farm",
		Long: `devicefarm-ci uploads an Android app and its Appium test package to AWS Device Farm,
schedules a run on a device pool, waits for it to finish and downloads the results.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg.EnsureBuildNumber()
			if err := cfg.Validate(); err != nil {
				logger.Fatal("Invalid configuration: %v", err)
			}

			logger.Info("Starting Device Farm run for build %s", cfg.BuildNumber)
			if err := runWorkflow(ctx, cfg, withTUI); err != nil {
				if errors.Is(err, workflow.ErrRunFailed) {
					logger.Fatal("Tests failed: %v", err)
				}
				logger.Fatal("Device Farm run failed: %v", err)
			}
			logger.Info("Tests passed")
		},
	}

	var bundleSrc, bundleOut string
	bundleCmd := &cobra.Command{
		Use:   "bundle",
		Short: "Package a test directory as an Appium test bundle",
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := bundle.Create(bundleSrc, bundleOut); err != nil {
				logger.Fatal("Failed to create test bundle: %v", err)
			}
		},
	}
	bundleCmd.Flags().StringVar(&bundleSrc, "src", "tests", "Directory containing the Appium tests")
	bundleCmd.Flags().StringVar(&bundleOut, "out", cfg.TestPackagePath, "Path of the zip to create")

	var summaryPath string
	statusCmd := &cobra.Command{
		Use:   "status [RUN_ARN]",
		Short: "Show the status of a run",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runARN, summary, err := runARNFrom(args, summaryPath)
			if err != nil {
				logger.Fatal("Failed to determine run: %v", err)
			}

			client, err := newClient(ctx, cfg)
			if err != nil {
				logger.Fatal("%v", err)
			}

			run, err := client.GetRun(ctx, runARN)
			if err != nil {
				logger.Fatal("Failed to get run %s: %v", runARN, err)
			}

			logger.Info("Run %s: status %s, result %s", runARN, run.Status, run.Result)
			logger.Info("Counters: %s", devicefarm.FormatCounters(run.Counters))
			if summary != nil && summary.WebURL != "" {
				logger.Info("Console: %s", summary.WebURL)
			}
		},
	}
	statusCmd.Flags().StringVar(&summaryPath, "summary", cfg.SummaryPath, "Read the run ARN from this summary file")

	var resultsOut string
	resultsCmd := &cobra.Command{
		Use:   "results [RUN_ARN]",
		Short: "Download the results artifact of a run",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runARN, _, err := runARNFrom(args, summaryPath)
			if err != nil {
				logger.Fatal("Failed to determine run: %v", err)
			}

			client, err := newClient(ctx, cfg)
			if err != nil {
				logger.Fatal("%v", err)
			}

			runner := workflow.NewRunner(cfg, client, transfer.NewClient(nil))
			checksum, err := runner.DownloadResults(ctx, runARN, resultsOut)
			if err != nil {
				logger.Fatal("Failed to download results: %v", err)
			}
			logger.Info("SHA-512: %s", checksum)
		},
	}
	resultsCmd.Flags().StringVar(&resultsOut, "out", cfg.ResultsPath, "Where to save the results")
	resultsCmd.Flags().StringVar(&summaryPath, "summary", cfg.SummaryPath, "Read the run ARN from this summary file")

	// Flag defaults come from the environment, so flags win over env.
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.Region, "region", cfg.Region, "AWS region hosting Device Farm")
	flags.DurationVar(&cfg.UploadTimeout, "upload-timeout", cfg.UploadTimeout, "How long to wait for an upload to be processed")
	flags.DurationVar(&cfg.RunTimeout, "run-timeout", cfg.RunTimeout, "How long to wait for the run to complete")
	flags.StringVar(&cfg.ResultsArtifactType, "artifact-type", cfg.ResultsArtifactType, "Artifact type holding the test results")

	rootCmd.Flags().StringVarP(&cfg.ProjectName, "project", "p", cfg.ProjectName, "Device Farm project name")
	rootCmd.Flags().StringVarP(&cfg.DevicePoolName, "device-pool", "d", cfg.DevicePoolName, "Device pool name")
	rootCmd.Flags().StringVar(&cfg.AppPath, "app", cfg.AppPath, "Path to the app to test")
	rootCmd.Flags().StringVar(&cfg.AppName, "app-name", cfg.AppName, "File name of the app upload")
	rootCmd.Flags().StringVar(&cfg.TestPackagePath, "test-package", cfg.TestPackagePath, "Path to the test package zip")
	rootCmd.Flags().StringVar(&cfg.TestBundleDir, "test-dir", cfg.TestBundleDir, "Build the test package from this directory first")
	rootCmd.Flags().StringVarP(&cfg.BuildNumber, "build", "b", cfg.BuildNumber, "Build number used to name uploads and the run")
	rootCmd.Flags().DurationVar(&cfg.ScheduleDelay, "schedule-delay", cfg.ScheduleDelay, "Pause before scheduling the run")
	rootCmd.Flags().StringVarP(&cfg.ResultsPath, "results", "o", cfg.ResultsPath, "Where to save the results")
	rootCmd.Flags().StringVar(&cfg.SummaryPath, "summary", cfg.SummaryPath, "Write a JSON run summary to this path")
	rootCmd.Flags().BoolVar(&withTUI, "tui", false, "Show an interactive progress monitor")

	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
}
