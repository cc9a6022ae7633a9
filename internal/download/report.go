package download

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Phase names an acquisition phase.
type Phase string

const (
	PhaseVideos    Phase = "videos"
	PhaseResources Phase = "resources"
)

// Status is the outcome of one item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is one report entry.
type Result struct {
	Module     string `json:"module"`
	Lesson     string `json:"lesson"`
	Kind       Kind   `json:"kind,omitempty"`
	Platform   string `json:"platform,omitempty"`
	URL        string `json:"url"`
	OutputPath string `json:"outputPath"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Report summarises one run of one phase.
type Report struct {
	RunID       string    `json:"runId"`
	Community   string    `json:"community"`
	Phase       Phase     `json:"phase"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	TotalVideos int       `json:"totalVideos,omitempty"`
	TotalItems  int       `json:"totalItems,omitempty"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Results     []Result  `json:"results"`

	// Path is where the report was written, empty when writing failed.
	Path string `json:"-"`
}

// Total returns the number of items the run covered.
func (r *Report) Total() int {
	if r.Phase == PhaseVideos {
		return r.TotalVideos
	}
	return r.TotalItems
}

// tally recomputes the aggregate counts from the results.
func (r *Report) tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			r.Succeeded++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
	if r.Phase == PhaseVideos {
		r.TotalVideos = len(r.Results)
	} else {
		r.TotalItems = len(r.Results)
	}
}

// WriteReport writes r as indented JSON, replacing any previous report.
func WriteReport(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by WriteReport.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &r, nil
}
