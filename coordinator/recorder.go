package coordinator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Workflow steps, in the order a successful federation records them.
const (
	StepServiceAnnounced          = "service_announced"
	StepBidOfferReceived          = "bid_offer_received"
	StepWinnerChosen              = "winner_choosen"
	StepConfirmDeploymentReceived = "confirm_deployment_received"
	StepConnectStart              = "establish_vxlan_connection_with_provider_start"
	StepConnectFinished           = "establish_vxlan_connection_with_provider_finished"

	StepAnnounceReceived      = "announce_received"
	StepBidOfferSent          = "bid_offer_sent"
	StepWinnerReceived        = "winner_received"
	StepOtherProviderChosen   = "other_provider_choosen"
	StepDeploymentStart       = "deployment_start"
	StepDeploymentFinished    = "deployment_finished"
	StepConfirmDeploymentSent = "confirm_deployment_sent"
)

// Step is one timestamped workflow milestone, relative to the workflow start.
type Step struct {
	Name    string        `json:"step"`
	Elapsed time.Duration `json:"elapsed"`
}

// StepRecorder collects workflow milestones.
type StepRecorder struct {
	mu    sync.Mutex
	start time.Time
	now   func() time.Time
	steps []Step
}

func NewStepRecorder(now func() time.Time) *StepRecorder {
	if now == nil {
		now = time.Now
	}
	return &StepRecorder{start: now(), now: now}
}

// Mark records a step at the current time.
func (r *StepRecorder) Mark(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, Step{Name: name, Elapsed: r.now().Sub(r.start)})
}

// Start returns the time the recorder was created.
func (r *StepRecorder) Start() time.Time {
	return r.start
}

// Steps returns a copy of the recorded steps.
func (r *StepRecorder) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// WriteStepsCSV writes steps as "step,timestamp" rows, timestamps in seconds.
func WriteStepsCSV(w io.Writer, steps []Step) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"step", "timestamp"}); err != nil {
		return err
	}
	for _, s := range steps {
		if err := cw.Write([]string{s.Name, strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 6, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportSteps writes steps to the next free
// <dir>/<role>/federation_events_<role>_test_<n>.csv and returns its path.
func ExportSteps(dir string, role Role, steps []Step) (string, error) {
	base := filepath.Join(dir, string(role))
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	prefix := fmt.Sprintf("federation_events_%s_test_", role)
	matches, err := filepath.Glob(filepath.Join(base, prefix+"*.csv"))
	if err != nil {
		return "", err
	}
	next := 1
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".csv"))
		if err == nil && n >= next {
			next = n + 1
		}
	}

	path := filepath.Join(base, fmt.Sprintf("%s%d.csv", prefix, next))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteStepsCSV(f, steps); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
