// Package devicefarm wraps the AWS Device Farm calls used by the CI workflow.
package devicefarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm/types"
	"github.com/aws/smithy-go"

	"github.com/kelsos/devicefarm-ci/internal/logger"
	"github.com/kelsos/devicefarm-ci/internal/poll"
)

// ErrNotFound is returned when a project, device pool or artifact lookup has no match.
var ErrNotFound = errors.New("not found")

// API is the subset of *devicefarm.Client used here.
type API interface {
	ListProjects(ctx context.Context, params *devicefarm.ListProjectsInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ListProjectsOutput, error)
	ListDevicePools(ctx context.Context, params *devicefarm.ListDevicePoolsInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ListDevicePoolsOutput, error)
	CreateUpload(ctx context.Context, params *devicefarm.CreateUploadInput, optFns ...func(*devicefarm.Options)) (*devicefarm.CreateUploadOutput, error)
	GetUpload(ctx context.Context, params *devicefarm.GetUploadInput, optFns ...func(*devicefarm.Options)) (*devicefarm.GetUploadOutput, error)
	ScheduleRun(ctx context.Context, params *devicefarm.ScheduleRunInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ScheduleRunOutput, error)
	GetRun(ctx context.Context, params *devicefarm.GetRunInput, optFns ...func(*devicefarm.Options)) (*devicefarm.GetRunOutput, error)
	ListArtifacts(ctx context.Context, params *devicefarm.ListArtifactsInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ListArtifactsOutput, error)
}

// ErrorCode returns the Device Farm error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func logAPIError(arn string, err error) {
	if code := ErrorCode(err); code != "" {
		logger.Error("Device Farm rejected request for %s: %s", arn, code)
	}
}

// Uploader sends a local file to a presigned URL.
type Uploader interface {
	Upload(ctx context.Context, presignedURL, filePath string) error
}

// Options tune the polling behaviour of the wait helpers.
type Options struct {
	UploadTimeout time.Duration
	RunTimeout    time.Duration

	// PollOptions are appended to every poll.Until call; tests use them to fake time.
	PollOptions []poll.Option
}

// Client handles all communication with Device Farm
type Client struct {
	api      API
	uploader Uploader
	region   string
	opts     Options
}

// NewClient creates a new Device Farm client. Zero timeouts fall back to
// the defaults used by the CI script: 10s for uploads and 20m for runs.
func NewClient(api API, uploader Uploader, region string, opts Options) *Client {
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 10 * time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 20 * time.Minute
	}
	return &Client{
		api:      api,
		uploader: uploader,
		region:   region,
		opts:     opts,
	}
}

// FindProjectARN returns the ARN of the project with the given name
func (c *Client) FindProjectARN(ctx context.Context, name string) (string, error) {
	input := &devicefarm.ListProjectsInput{}
	for {
		out, err := c.api.ListProjects(ctx, input)
		if err != nil {
			return "", fmt.Errorf("failed to list projects: %w", err)
		}

		for _, project := range out.Projects {
			if aws.ToString(project.Name) == name {
				return aws.ToString(project.Arn), nil
			}
		}

		if aws.ToString(out.NextToken) == "" {
			return "", fmt.Errorf("could not find project %q: %w", name, ErrNotFound)
		}
		input.NextToken = out.NextToken
	}
}

// FindDevicePoolARN returns the ARN of the named device pool within a project
func (c *Client) FindDevicePoolARN(ctx context.Context, projectARN, name string) (string, error) {
	input := &devicefarm.ListDevicePoolsInput{Arn: aws.String(projectARN)}
	for {
		out, err := c.api.ListDevicePools(ctx, input)
		if err != nil {
			return "", fmt.Errorf("failed to list device pools: %w", err)
		}

		for _, pool := range out.DevicePools {
			if aws.ToString(pool.Name) == name {
				return aws.ToString(pool.Arn), nil
			}
		}

		if aws.ToString(out.NextToken) == "" {
			return "", fmt.Errorf("could not find device pool %q: %w", name, ErrNotFound)
		}
		input.NextToken = out.NextToken
	}
}

// CreateUpload registers an upload and sends the file to its presigned URL.
// name must be a file name such as app-release.apk, not a display label.
func (c *Client) CreateUpload(ctx context.Context, projectARN, uploadType, name, filePath string) (string, error) {
	logger.Info("Uploading %s %q", uploadType, filePath)

	out, err := c.api.CreateUpload(ctx, &devicefarm.CreateUploadInput{
		ProjectArn:  aws.String(projectARN),
		Name:        aws.String(name),
		Type:        types.UploadType(uploadType),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create upload %s: %w", name, err)
	}
	if out.Upload == nil {
		return "", fmt.Errorf("create upload %s returned no upload", name)
	}

	if err := c.uploader.Upload(ctx, aws.ToString(out.Upload.Url), filePath); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filePath, err)
	}

	return aws.ToString(out.Upload.Arn), nil
}

func (c *Client) getUpload(ctx context.Context, arn string) (*types.Upload, error) {
	out, err := c.api.GetUpload(ctx, &devicefarm.GetUploadInput{Arn: aws.String(arn)})
	if err != nil {
		return nil, err
	}
	if out.Upload == nil {
		return nil, fmt.Errorf("upload %s: %w", arn, ErrNotFound)
	}
	return out.Upload, nil
}

func uploadStatus(u *types.Upload) string {
	return string(u.Status)
}

// WaitForUpload blocks until the upload has been processed by Device Farm
func (c *Client) WaitForUpload(ctx context.Context, arn string, opts ...poll.Option) (*types.Upload, error) {
	pollOpts := append([]poll.Option{poll.WithInterval(poll.IntervalFor(c.opts.UploadTimeout))}, c.opts.PollOptions...)
	outcome, err := poll.Until(ctx, c.getUpload, arn, uploadStatus,
		[]string{string(types.UploadStatusSucceeded)}, c.opts.UploadTimeout,
		append(pollOpts, opts...)...)
	if err != nil {
		logAPIError(arn, err)
		if outcome.State != nil && aws.ToString(outcome.State.Message) != "" {
			logger.Error("Upload %s: %s", arn, aws.ToString(outcome.State.Message))
		}
		return nil, err
	}
	return outcome.State, nil
}

// RunRequest describes a test run to schedule
type RunRequest struct {
	ProjectARN     string
	Name           string
	DevicePoolARN  string
	AppARN         string
	TestPackageARN string
	TestType       string
}

// ScheduleRun schedules a test run and returns its ARN
func (c *Client) ScheduleRun(ctx context.Context, req RunRequest) (string, error) {
	testType := req.TestType
	if testType == "" {
		testType = string(types.TestTypeAppiumPython)
	}

	logger.Info("Scheduling test run %q", req.Name)
	out, err := c.api.ScheduleRun(ctx, &devicefarm.ScheduleRunInput{
		ProjectArn:    aws.String(req.ProjectARN),
		AppArn:        aws.String(req.AppARN),
		DevicePoolArn: aws.String(req.DevicePoolARN),
		Name:          aws.String(req.Name),
		Test: &types.ScheduleRunTest{
			Type:           types.TestType(testType),
			TestPackageArn: aws.String(req.TestPackageARN),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to schedule run %s: %w", req.Name, err)
	}
	if out.Run == nil {
		return "", fmt.Errorf("schedule run %s returned no run", req.Name)
	}

	return aws.ToString(out.Run.Arn), nil
}

// GetRun fetches the current state of a run
func (c *Client) GetRun(ctx context.Context, arn string) (*types.Run, error) {
	out, err := c.api.GetRun(ctx, &devicefarm.GetRunInput{Arn: aws.String(arn)})
	if err != nil {
		return nil, err
	}
	if out.Run == nil {
		return nil, fmt.Errorf("run %s: %w", arn, ErrNotFound)
	}
	return out.Run, nil
}

func runStatus(r *types.Run) string {
	return string(r.Status)
}

// WaitForRun blocks until the run completes and reports whether it passed
func (c *Client) WaitForRun(ctx context.Context, arn string, opts ...poll.Option) (bool, *types.Run, error) {
	pollOpts := append([]poll.Option{poll.WithInterval(poll.IntervalFor(c.opts.RunTimeout))}, c.opts.PollOptions...)
	outcome, err := poll.Until(ctx, c.GetRun, arn, runStatus,
		[]string{string(types.ExecutionStatusCompleted)}, c.opts.RunTimeout,
		append(pollOpts, opts...)...)
	if err != nil {
		logAPIError(arn, err)
		return false, outcome.State, err
	}

	run := outcome.State
	logger.Info("Final run counts: %s", FormatCounters(run.Counters))
	return run.Result == types.ExecutionResultPassed, run, nil
}

// FormatCounters renders run counters the way they appear in the console
func FormatCounters(counters *types.Counters) string {
	if counters == nil {
		return "no counters"
	}
	return fmt.Sprintf("total=%d passed=%d failed=%d errored=%d warned=%d skipped=%d stopped=%d",
		aws.ToInt32(counters.Total),
		aws.ToInt32(counters.Passed),
		aws.ToInt32(counters.Failed),
		aws.ToInt32(counters.Errored),
		aws.ToInt32(counters.Warned),
		aws.ToInt32(counters.Skipped),
		aws.ToInt32(counters.Stopped),
	)
}

// FindArtifactURL returns the download URL of the first FILE artifact of the given type
func (c *Client) FindArtifactURL(ctx context.Context, runARN, artifactType string) (string, error) {
	input := &devicefarm.ListArtifactsInput{
		Arn:  aws.String(runARN),
		Type: types.ArtifactCategoryFile,
	}
	for {
		out, err := c.api.ListArtifacts(ctx, input)
		if err != nil {
			return "", fmt.Errorf("failed to list artifacts for %s: %w", runARN, err)
		}

		for _, artifact := range out.Artifacts {
			if string(artifact.Type) == artifactType {
				return aws.ToString(artifact.Url), nil
			}
		}

		if aws.ToString(out.NextToken) == "" {
			return "", fmt.Errorf("no %s artifact for run %s: %w", artifactType, runARN, ErrNotFound)
		}
		input.NextToken = out.NextToken
	}
}
