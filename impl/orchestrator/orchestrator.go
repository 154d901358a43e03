// Package orchestrator runs one worker per image, all sharing one admission
// controller and one ledger, and joins them into a Report.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aceeric/pullgather/impl/admission"
	"github.com/aceeric/pullgather/impl/fetch"
	"github.com/aceeric/pullgather/impl/ledger"
	"github.com/aceeric/pullgather/impl/worker"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of concurrent pulls if not configured.
const DefaultConcurrency = 3

type Options struct {
	Service     fetch.Service
	Concurrency int
	Worker      worker.Options
	// Ledger is optional. Pass one in to share it with a display.
	Ledger *ledger.Ledger
}

type Orchestrator struct {
	svc    fetch.Service
	gate   *admission.Controller
	ledger *ledger.Ledger
	wopts  worker.Options

	mu       sync.Mutex
	outcomes []worker.Outcome
}

// New creates an orchestrator. A concurrency less than one is treated as one.
func New(opts Options) *Orchestrator {
	l := opts.Ledger
	if l == nil {
		l = ledger.New()
	}
	return &Orchestrator{
		svc:    opts.Service,
		gate:   admission.New(opts.Concurrency),
		ledger: l,
		wopts:  opts.Worker,
	}
}

// Ledger returns the ledger the workers write to.
func (o *Orchestrator) Ledger() *ledger.Ledger {
	return o.ledger
}

// Run pulls every passed image and returns when all of them have an outcome. A
// failed pull never stops the others. Cancelling the passed context ends every
// pull that has not finished with a terminal "cancelled" outcome.
func (o *Orchestrator) Run(ctx context.Context, artifacts []string) Report {
	started := time.Now()
	log.Infof("Pull the following Docker images: %s", strings.Join(artifacts, ", "))

	results := make([]worker.Outcome, len(artifacts))
	w := worker.New(o.svc, o.gate, o.ledger, o.wopts)
	// a failed pull is an outcome, not a group error, so Wait always returns nil
	var g errgroup.Group
	for i, artifact := range artifacts {
		i, artifact := i, artifact
		g.Go(func() error {
			results[i] = w.Run(ctx, artifact)
			o.record(results[i])
			return nil
		})
	}
	_ = g.Wait()
	log.Info("All completed!!")

	report := Report{
		Outcomes:    results,
		Started:     started,
		Elapsed:     time.Since(started),
		Concurrency: o.gate.Capacity(),
		PeakActive:  o.gate.Peak(),
		Progress:    o.ledger.Artifacts(),
	}
	log.Info(report.Summary())
	return report
}

func (o *Orchestrator) record(out worker.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

// Outcomes returns the outcomes so far in completion order.
func (o *Orchestrator) Outcomes() []worker.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]worker.Outcome(nil), o.outcomes...)
}

// Active returns the number of pulls holding a slot.
func (o *Orchestrator) Active() int {
	return o.gate.Active()
}

// Waiting returns the number of pulls waiting for a slot.
func (o *Orchestrator) Waiting() int {
	return o.gate.Waiting()
}

// Artifacts returns per-image progress from the ledger.
func (o *Orchestrator) Artifacts() []ledger.ArtifactProgress {
	return o.ledger.Artifacts()
}
