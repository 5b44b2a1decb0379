package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Counters mirrors the per-run test counters reported by Device Farm
type Counters struct {
	Total   int32 `json:"total"`
	Passed  int32 `json:"passed"`
	Failed  int32 `json:"failed"`
	Errored int32 `json:"errored"`
	Warned  int32 `json:"warned"`
	Skipped int32 `json:"skipped"`
	Stopped int32 `json:"stopped"`
}

// RunSummary is the record of one CI run written for later inspection
type RunSummary struct {
	RunARN      string    `json:"run_arn"`
	Name        string    `json:"name"`
	ProjectARN  string    `json:"project_arn"`
	Status      string    `json:"status"`
	Result      string    `json:"result"`
	Passed      bool      `json:"passed"`
	Counters    Counters  `json:"counters"`
	WebURL      string    `json:"web_url,omitempty"`
	ResultsPath string    `json:"results_path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// SaveRunSummary writes the summary as indented JSON
func SaveRunSummary(path string, summary RunSummary) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create summary directory: %w", err)
		}
	}

	jsonData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}

	return nil
}

// LoadRunSummary reads a summary written by SaveRunSummary
func LoadRunSummary(path string) (*RunSummary, error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run summary: %w", err)
	}

	var summary RunSummary
	if err := json.Unmarshal(fileData, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}

	if summary.RunARN == "" {
		return nil, fmt.Errorf("run summary %s has no run ARN", path)
	}

	return &summary, nil
}
