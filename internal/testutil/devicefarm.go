// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm/types"
)

// ErrUnexpectedCall is returned when a fake has no canned response.
var ErrUnexpectedCall = errors.New("unexpected call")

// FakeDeviceFarm serves canned pages and status sequences.
type FakeDeviceFarm struct {
	ProjectPages  [][]types.Project
	PoolPages     [][]types.DevicePool
	ArtifactPages [][]types.Artifact

	UploadStatuses []types.UploadStatus
	RunStatuses    []types.ExecutionStatus
	RunResult      types.ExecutionResult
	RunCounters    *types.Counters

	CreatedUploads     []*devicefarm.CreateUploadInput
	Scheduled          []*devicefarm.ScheduleRunInput
	ListArtifactsCalls []*devicefarm.ListArtifactsInput

	GetUploadCalls int
	GetRunCalls    int
	Err            error
}

func page(token string, idx, total int) *string {
	if idx+1 >= total {
		return nil
	}
	return aws.String(token)
}

func pageIndex(token *string) int {
	n, _ := strconv.Atoi(aws.ToString(token))
	return n
}

func (f *FakeDeviceFarm) ListProjects(_ context.Context, in *devicefarm.ListProjectsInput, _ ...func(*devicefarm.Options)) (*devicefarm.ListProjectsOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	idx := pageIndex(in.NextToken)
	if idx >= len(f.ProjectPages) {
		return &devicefarm.ListProjectsOutput{}, nil
	}
	return &devicefarm.ListProjectsOutput{
		Projects:  f.ProjectPages[idx],
		NextToken: page(strconv.Itoa(idx+1), idx, len(f.ProjectPages)),
	}, nil
}

func (f *FakeDeviceFarm) ListDevicePools(_ context.Context, in *devicefarm.ListDevicePoolsInput, _ ...func(*devicefarm.Options)) (*devicefarm.ListDevicePoolsOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	idx := pageIndex(in.NextToken)
	if idx >= len(f.PoolPages) {
		return &devicefarm.ListDevicePoolsOutput{}, nil
	}
	return &devicefarm.ListDevicePoolsOutput{
		DevicePools: f.PoolPages[idx],
		NextToken:   page(strconv.Itoa(idx+1), idx, len(f.PoolPages)),
	}, nil
}

func (f *FakeDeviceFarm) CreateUpload(_ context.Context, in *devicefarm.CreateUploadInput, _ ...func(*devicefarm.Options)) (*devicefarm.CreateUploadOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.CreatedUploads = append(f.CreatedUploads, in)
	n := strconv.Itoa(len(f.CreatedUploads))
	return &devicefarm.CreateUploadOutput{
		Upload: &types.Upload{
			Arn:    aws.String("arn:aws:devicefarm:us-west-2:123:upload:proj/upload-" + n),
			Name:   in.Name,
			Url:    aws.String("https://uploads.example.com/" + n),
			Status: types.UploadStatusInitialized,
		},
	}, nil
}

func (f *FakeDeviceFarm) GetUpload(_ context.Context, in *devicefarm.GetUploadInput, _ ...func(*devicefarm.Options)) (*devicefarm.GetUploadOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.UploadStatuses) == 0 {
		return nil, ErrUnexpectedCall
	}
	idx := min(f.GetUploadCalls, len(f.UploadStatuses)-1)
	f.GetUploadCalls++
	return &devicefarm.GetUploadOutput{
		Upload: &types.Upload{Arn: in.Arn, Status: f.UploadStatuses[idx]},
	}, nil
}

func (f *FakeDeviceFarm) ScheduleRun(_ context.Context, in *devicefarm.ScheduleRunInput, _ ...func(*devicefarm.Options)) (*devicefarm.ScheduleRunOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.Scheduled = append(f.Scheduled, in)
	return &devicefarm.ScheduleRunOutput{
		Run: &types.Run{
			Arn:    aws.String("arn:aws:devicefarm:us-west-2:123:run:proj-1/run-1"),
			Name:   in.Name,
			Status: types.ExecutionStatusScheduling,
		},
	}, nil
}

func (f *FakeDeviceFarm) GetRun(_ context.Context, in *devicefarm.GetRunInput, _ ...func(*devicefarm.Options)) (*devicefarm.GetRunOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.RunStatuses) == 0 {
		return nil, ErrUnexpectedCall
	}
	idx := min(f.GetRunCalls, len(f.RunStatuses)-1)
	f.GetRunCalls++
	run := &types.Run{Arn: in.Arn, Status: f.RunStatuses[idx]}
	if run.Status == types.ExecutionStatusCompleted {
		run.Result = f.RunResult
		run.Counters = f.RunCounters
	}
	return &devicefarm.GetRunOutput{Run: run}, nil
}

func (f *FakeDeviceFarm) ListArtifacts(_ context.Context, in *devicefarm.ListArtifactsInput, _ ...func(*devicefarm.Options)) (*devicefarm.ListArtifactsOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.ListArtifactsCalls = append(f.ListArtifactsCalls, in)
	idx := pageIndex(in.NextToken)
	if idx >= len(f.ArtifactPages) {
		return &devicefarm.ListArtifactsOutput{}, nil
	}
	return &devicefarm.ListArtifactsOutput{
		Artifacts: f.ArtifactPages[idx],
		NextToken: page(strconv.Itoa(idx+1), idx, len(f.ArtifactPages)),
	}, nil
}

// FakeUploader records presigned URL uploads instead of performing them.
type FakeUploader struct {
	Uploads map[string]string
	Err     error
}

func (u *FakeUploader) Upload(_ context.Context, presignedURL, filePath string) error {
	if u.Err != nil {
		return u.Err
	}
	if u.Uploads == nil {
		u.Uploads = make(map[string]string)
	}
	u.Uploads[presignedURL] = filePath
	return nil
}
