package devicefarm

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

const webURLTemplate = "https://%s.console.aws.amazon.com/devicefarm/home#/projects/%s/runs/%s"

// RunWebURL builds the console link for a run.
//
//	project: arn:aws:devicefarm:us-west-2:123:project:PROJECT-ID
//	run:     arn:aws:devicefarm:us-west-2:123:run:PROJECT-ID/RUN-ID
func RunWebURL(region, projectARN, runARN string) (string, error) {
	project, err := arn.Parse(projectARN)
	if err != nil {
		return "", fmt.Errorf("invalid project ARN %q: %w", projectARN, err)
	}
	projectID, ok := strings.CutPrefix(project.Resource, "project:")
	if !ok || projectID == "" {
		return "", fmt.Errorf("not a project ARN: %q", projectARN)
	}

	run, err := arn.Parse(runARN)
	if err != nil {
		return "", fmt.Errorf("invalid run ARN %q: %w", runARN, err)
	}
	runResource, ok := strings.CutPrefix(run.Resource, "run:")
	if !ok {
		return "", fmt.Errorf("not a run ARN: %q", runARN)
	}
	_, runID, ok := strings.Cut(runResource, "/")
	if !ok || runID == "" {
		return "", fmt.Errorf("run ARN has no run id: %q", runARN)
	}

	if region == "" {
		region = project.Region
	}
	return fmt.Sprintf(webURLTemplate, region, projectID, runID), nil
}

// WebURL builds the console link for a run using the client's region
func (c *Client) WebURL(projectARN, runARN string) (string, error) {
	return RunWebURL(c.region, projectARN, runARN)
}
