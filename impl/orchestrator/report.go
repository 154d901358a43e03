package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aceeric/pullgather/impl/ledger"
	"github.com/aceeric/pullgather/impl/worker"
)

// Report is the result of a run. Outcomes are in the order the images were
// requested.
type Report struct {
	Outcomes    []worker.Outcome          `json:"outcomes"`
	Started     time.Time                 `json:"started"`
	Elapsed     time.Duration             `json:"elapsedNs"`
	Concurrency int                       `json:"concurrency"`
	PeakActive  int                       `json:"peakActive"`
	Progress    []ledger.ArtifactProgress `json:"progress"`
}

// ByArtifact returns the outcome for the passed image.
func (r Report) ByArtifact(artifact string) (worker.Outcome, bool) {
	for _, out := range r.Outcomes {
		if out.Artifact == artifact {
			return out, true
		}
	}
	return worker.Outcome{}, false
}

// Counts returns the number of outcomes of each kind.
func (r Report) Counts() map[worker.Kind]int {
	counts := make(map[worker.Kind]int)
	for _, out := range r.Outcomes {
		counts[out.Kind]++
	}
	return counts
}

// Succeeded returns the images that completed.
func (r Report) Succeeded() []string {
	var res []string
	for _, out := range r.Outcomes {
		if out.Ok() {
			res = append(res, out.Artifact)
		}
	}
	return res
}

// Failed returns the outcomes that did not complete.
func (r Report) Failed() []worker.Outcome {
	var res []worker.Outcome
	for _, out := range r.Outcomes {
		if !out.Ok() {
			res = append(res, out)
		}
	}
	return res
}

// Summary is a one-line description of the report like "3 images in 4.2s: 2
// completed, 1 transient".
func (r Report) Summary() string {
	counts := r.Counts()
	var parts []string
	for _, kind := range []worker.Kind{worker.Completed, worker.TransientFailure, worker.TerminalFailure, worker.MalformedEvent} {
		if counts[kind] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[kind], kind))
		}
	}
	noun := "images"
	if len(r.Outcomes) == 1 {
		noun = "image"
	}
	s := fmt.Sprintf("%d %s in %s", len(r.Outcomes), noun, r.Elapsed.Round(100*time.Millisecond))
	if len(parts) > 0 {
		s += ": " + strings.Join(parts, ", ")
	}
	return s
}

// WriteFile writes the report as indented JSON.
func (r Report) WriteFile(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("unable to write report file %s: %w", path, err)
	}
	return nil
}
