package devicefarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelsos/devicefarm-ci/internal/poll"
	"github.com/kelsos/devicefarm-ci/internal/testutil"
)

const (
	projectARN = "arn:aws:devicefarm:us-west-2:123456789012:project:proj-1"
	runARN     = "arn:aws:devicefarm:us-west-2:123456789012:run:proj-1/run-9"
)

func newTestClient(api *testutil.FakeDeviceFarm, uploader *testutil.FakeUploader) (*Client, *testutil.Clock) {
	clock := testutil.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	client := NewClient(api, uploader, "us-west-2", Options{
		PollOptions: []poll.Option{poll.WithClock(clock.Now, clock.Sleep)},
	})
	return client, clock
}

func TestFindProjectARNFollowsPagination(t *testing.T) {
	api := &testutil.FakeDeviceFarm{
		ProjectPages: [][]types.Project{
			{{Name: aws.String("Other"), Arn: aws.String("arn:other")}},
			{{Name: aws.String("CircleCiTest"), Arn: aws.String(projectARN)}},
		},
	}
	client, _ := newTestClient(api, nil)

	arn, err := client.FindProjectARN(context.Background(), "CircleCiTest")

	require.NoError(t, err)
	assert.Equal(t, projectARN, arn)
}

func TestFindProjectARNNotFound(t *testing.T) {
	api := &testutil.FakeDeviceFarm{
		ProjectPages: [][]types.Project{{{Name: aws.String("Other"), Arn: aws.String("arn:other")}}},
	}
	client, _ := newTestClient(api, nil)

	_, err := client.FindProjectARN(context.Background(), "CircleCiTest")

	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "CircleCiTest")
}

func TestFindProjectARNPropagatesAPIError(t *testing.T) {
	boom := errors.New("AccessDenied")
	client, _ := newTestClient(&testutil.FakeDeviceFarm{Err: boom}, nil)

	_, err := client.FindProjectARN(context.Background(), "CircleCiTest")

	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFindDevicePoolARN(t *testing.T) {
	api := &testutil.FakeDeviceFarm{
		PoolPages: [][]types.DevicePool{
			{{Name: aws.String("Top Devices"), Arn: aws.String("arn:pool:top")}},
			{{Name: aws.String("S6"), Arn: aws.String("arn:pool:s6")}},
		},
	}
	client, _ := newTestClient(api, nil)

	arn, err := client.FindDevicePoolARN(context.Background(), projectARN, "S6")
	require.NoError(t, err)
	assert.Equal(t, "arn:pool:s6", arn)

	_, err = client.FindDevicePoolARN(context.Background(), projectARN, "Pixel")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUploadSendsFileToPresignedURL(t *testing.T) {
	api := &testutil.FakeDeviceFarm{}
	uploader := &testutil.FakeUploader{}
	client, _ := newTestClient(api, uploader)

	arn, err := client.CreateUpload(context.Background(), projectARN, "ANDROID_APP", "Build_1_app.apk", "/tmp/app.apk")

	require.NoError(t, err)
	assert.Equal(t, "arn:aws:devicefarm:us-west-2:123:upload:proj/upload-1", arn)
	require.Len(t, api.CreatedUploads, 1)
	in := api.CreatedUploads[0]
	assert.Equal(t, projectARN, aws.ToString(in.ProjectArn))
	assert.Equal(t, "Build_1_app.apk", aws.ToString(in.Name))
	assert.Equal(t, types.UploadType("ANDROID_APP"), in.Type)
	assert.Equal(t, "application/octet-stream", aws.ToString(in.ContentType))
	assert.Equal(t, "/tmp/app.apk", uploader.Uploads["https://uploads.example.com/1"])
}

func TestCreateUploadFailsWhenTransferFails(t *testing.T) {
	boom := errors.New("HTTP 403")
	client, _ := newTestClient(&testutil.FakeDeviceFarm{}, &testutil.FakeUploader{Err: boom})

	_, err := client.CreateUpload(context.Background(), projectARN, "ANDROID_APP", "a.apk", "/tmp/a.apk")

	require.ErrorIs(t, err, boom)
}

func TestWaitForUploadPollsUntilSucceeded(t *testing.T) {
	api := &testutil.FakeDeviceFarm{
		UploadStatuses: []types.UploadStatus{
			types.UploadStatusInitialized,
			types.UploadStatusProcessing,
			types.UploadStatusSucceeded,
		},
	}
	client, clock := newTestClient(api, nil)

	upload, err := client.WaitForUpload(context.Background(), "arn:upload")

	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusSucceeded, upload.Status)
	assert.Equal(t, 3, api.GetUploadCalls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.Sleeps())
}

func TestWaitForUploadTimesOut(t *testing.T) {
	api := &testutil.FakeDeviceFarm{UploadStatuses: []types.UploadStatus{types.UploadStatusFailed}}
	client, _ := newTestClient(api, nil)

	_, err := client.WaitForUpload(context.Background(), "arn:upload")

	require.ErrorIs(t, err, poll.ErrDeadlineExceeded)
	var deadlineErr *poll.DeadlineExceededError
	require.True(t, errors.As(err, &deadlineErr))
	assert.Equal(t, "arn:upload", deadlineErr.ID)
	assert.Equal(t, "FAILED", deadlineErr.LastStatus)
}

func TestScheduleRunDefaultsToAppiumPython(t *testing.T) {
	api := &testutil.FakeDeviceFarm{}
	client, _ := newTestClient(api, nil)

	arn, err := client.ScheduleRun(context.Background(), RunRequest{
		ProjectARN:     projectARN,
		Name:           "Build 5",
		DevicePoolARN:  "arn:pool",
		AppARN:         "arn:app",
		TestPackageARN: "arn:pkg",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, arn)
	require.Len(t, api.Scheduled, 1)
	in := api.Scheduled[0]
	assert.Equal(t, "Build 5", aws.ToString(in.Name))
	assert.Equal(t, "arn:pool", aws.ToString(in.DevicePoolArn))
	assert.Equal(t, "arn:app", aws.ToString(in.AppArn))
	require.NotNil(t, in.Test)
	assert.Equal(t, types.TestTypeAppiumPython, in.Test.Type)
	assert.Equal(t, "arn:pkg", aws.ToString(in.Test.TestPackageArn))
}

func TestWaitForRunUsesCoarseIntervalAndReportsResult(t *testing.T) {
	tests := []struct {
		name   string
		result types.ExecutionResult
		want   bool
	}{
		{name: "passed", result: types.ExecutionResultPassed, want: true},
		{name: "failed", result: types.ExecutionResultFailed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &testutil.FakeDeviceFarm{
				RunStatuses: []types.ExecutionStatus{
					types.ExecutionStatusScheduling,
					types.ExecutionStatusRunning,
					types.ExecutionStatusCompleted,
				},
				RunResult:   tt.result,
				RunCounters: &types.Counters{Total: aws.Int32(3), Passed: aws.Int32(2), Failed: aws.Int32(1)},
			}
			client, clock := newTestClient(api, nil)

			passed, run, err := client.WaitForRun(context.Background(), runARN)

			require.NoError(t, err)
			assert.Equal(t, tt.want, passed)
			assert.Equal(t, tt.result, run.Result)
			assert.Equal(t, []time.Duration{poll.LongInterval, poll.LongInterval}, clock.Sleeps())
		})
	}
}

func TestWaitForRunPropagatesAPIError(t *testing.T) {
	boom := errors.New("ThrottlingException")
	client, clock := newTestClient(&testutil.FakeDeviceFarm{Err: boom}, nil)

	_, _, err := client.WaitForRun(context.Background(), runARN)

	require.ErrorIs(t, err, boom)
	assert.Empty(t, clock.Sleeps())
}

func TestErrorCode(t *testing.T) {
	throttled := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}
	client, _ := newTestClient(&testutil.FakeDeviceFarm{Err: throttled}, nil)

	_, err := client.WaitForUpload(context.Background(), "arn:upload")

	require.Error(t, err)
	assert.Equal(t, "ThrottlingException", ErrorCode(err))
	assert.Empty(t, ErrorCode(errors.New("plain")))
	assert.Empty(t, ErrorCode(nil))
}

func TestFindArtifactURL(t *testing.T) {
	api := &testutil.FakeDeviceFarm{
		ArtifactPages: [][]types.Artifact{
			{{Type: types.ArtifactType("DEVICE_LOG"), Url: aws.String("https://logs")}},
			{
				{Type: types.ArtifactType("APPIUM_PYTHON_XML_OUTPUT"), Url: aws.String("https://results.xml")},
				{Type: types.ArtifactType("APPIUM_PYTHON_XML_OUTPUT"), Url: aws.String("https://second.xml")},
			},
		},
	}
	client, _ := newTestClient(api, nil)

	url, err := client.FindArtifactURL(context.Background(), runARN, "APPIUM_PYTHON_XML_OUTPUT")

	require.NoError(t, err)
	assert.Equal(t, "https://results.xml", url)
	require.NotEmpty(t, api.ListArtifactsCalls)
	assert.Equal(t, types.ArtifactCategoryFile, api.ListArtifactsCalls[0].Type)
	assert.Equal(t, runARN, aws.ToString(api.ListArtifactsCalls[0].Arn))
}

func TestFindArtifactURLNotFound(t *testing.T) {
	api := &testutil.FakeDeviceFarm{
		ArtifactPages: [][]types.Artifact{{{Type: types.ArtifactType("DEVICE_LOG")}}},
	}
	client, _ := newTestClient(api, nil)

	_, err := client.FindArtifactURL(context.Background(), runARN, "APPIUM_PYTHON_XML_OUTPUT")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFormatCounters(t *testing.T) {
	assert.Equal(t, "no counters", FormatCounters(nil))
	assert.Equal(t,
		"total=4 passed=3 failed=1 errored=0 warned=0 skipped=0 stopped=0",
		FormatCounters(&types.Counters{Total: aws.Int32(4), Passed: aws.Int32(3), Failed: aws.Int32(1)}))
}
