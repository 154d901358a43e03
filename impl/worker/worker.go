// Package worker pulls one artifact: it holds an admission slot for the
// duration of each attempt, applies the stream's progress events to the
// ledger, and classifies how the pull ended. Transient failures are retried
// with exponential backoff, releasing the slot while waiting.
package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aceeric/pullgather/impl/event"
	"github.com/aceeric/pullgather/impl/fetch"
	"github.com/aceeric/pullgather/impl/ledger"
	"github.com/aceeric/pullgather/impl/metrics"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultTimeoutMarker is what the Docker daemon puts in the error message when
// its HTTP client times out talking to a registry.
const DefaultTimeoutMarker = "Client.Timeout"

const (
	maxBackoff    = 30 * time.Second
	backoffFactor = 2.0
	backoffJitter = 0.1
	cancelledMsg  = "cancelled"
	minAttempts   = 1
)

// Gate limits how many pulls are active.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

// Progress receives sub-task progress.
type Progress interface {
	CreateSubTask(artifact, id, description string, total int64) (ledger.Handle, bool)
	Update(h ledger.Handle, completed int64) error
}

// Options configures retry. MaxAttempts less than one means one attempt. An
// empty TimeoutMarkers means DefaultTimeoutMarker.
type Options struct {
	MaxAttempts    int
	Backoff        time.Duration
	TimeoutMarkers []string
}

type Worker struct {
	svc      fetch.Service
	gate     Gate
	progress Progress
	opts     Options
	sleep    func(context.Context, time.Duration) error
}

// New creates a worker. A worker has no per-artifact state so one worker can
// run many artifacts concurrently.
func New(svc fetch.Service, gate Gate, progress Progress, opts Options) *Worker {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = minAttempts
	}
	if len(opts.TimeoutMarkers) == 0 {
		opts.TimeoutMarkers = []string{DefaultTimeoutMarker}
	}
	return &Worker{
		svc:      svc,
		gate:     gate,
		progress: progress,
		opts:     opts,
		sleep:    sleepCtx,
	}
}

// Run pulls the passed artifact and returns its outcome. It never returns an
// error: every failure is expressed in the outcome.
func (w *Worker) Run(ctx context.Context, artifact string) Outcome {
	start := time.Now()
	backoff := wait.Backoff{
		Duration: w.opts.Backoff,
		Factor:   backoffFactor,
		Jitter:   backoffJitter,
		Steps:    w.opts.MaxAttempts,
		Cap:      maxBackoff,
	}
	var out Outcome
	updates, unparseable := 0, 0
	for attempt := 1; ; attempt++ {
		metrics.IncAttempts()
		out = w.attempt(ctx, artifact)
		updates += out.Updates
		unparseable += out.Unparseable
		out.Attempts = attempt
		if out.Kind != TransientFailure || attempt >= w.opts.MaxAttempts {
			break
		}
		delay := backoff.Step()
		log.WithFields(log.Fields{"image": artifact, "attempt": attempt}).Warnf("Retrying %s in %s: %s", artifact, delay.Round(time.Millisecond), out.Reason)
		metrics.IncRetries()
		if err := w.sleep(ctx, delay); err != nil {
			out.Kind, out.Status, out.Reason = TerminalFailure, 0, cancelledMsg
			break
		}
	}
	out.Updates, out.Unparseable = updates, unparseable
	out.Elapsed = time.Since(start)
	logOutcome(out)
	metrics.IncOutcomes(out.Kind.String())
	metrics.ObservePullSeconds(out.Elapsed.Seconds())
	return out
}

// attempt is one pull of the artifact while holding a slot. The slot is released
// on every path out.
func (w *Worker) attempt(ctx context.Context, artifact string) Outcome {
	out := Outcome{Artifact: artifact}
	if err := w.gate.Acquire(ctx); err != nil {
		return w.failed(ctx, out, err)
	}
	defer w.gate.Release()
	metrics.DeltaActiveWorkers(1)
	defer metrics.DeltaActiveWorkers(-1)

	stream, err := w.svc.Open(ctx, artifact)
	if err != nil {
		return w.failed(ctx, out, err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			out.Kind = Completed
			return out
		} else if err != nil {
			return w.failed(ctx, out, err)
		}
		c := event.Classify(artifact, ev)
		metrics.IncEvents(c.Kind.String())
		switch c.Kind {
		case event.ProgressUpdate:
			h, _ := w.progress.CreateSubTask(artifact, c.Update.ID, c.Update.Description, c.Update.Total)
			if err := w.progress.Update(h, c.Update.Completed); err != nil {
				return w.failed(ctx, out, err)
			}
			out.Updates++
		case event.Unparseable:
			out.Unparseable++
			log.WithFields(log.Fields{"image": artifact, "id": ev.ID}).Warnf("Skipping unparseable event: %s", c.Reason)
		}
	}
}

// failed classifies the error that ended an attempt.
func (w *Worker) failed(ctx context.Context, out Outcome, err error) Outcome {
	var svcErr *fetch.ServiceError
	var netErr net.Error
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		out.Kind, out.Reason = TerminalFailure, cancelledMsg
		return out
	case errors.Is(err, ledger.ErrUnknownSubTask), errors.Is(err, fetch.ErrMalformedStream):
		out.Kind = MalformedEvent
	case w.isTimeout(err), errors.As(err, &netErr) && netErr.Timeout():
		out.Kind = TransientFailure
	default:
		out.Kind = TerminalFailure
	}
	if errors.As(err, &svcErr) {
		out.Status = svcErr.Status
		out.Reason = svcErr.Message
	} else {
		out.Reason = err.Error()
	}
	return out
}

func (w *Worker) isTimeout(err error) bool {
	msg := err.Error()
	for _, marker := range w.opts.TimeoutMarkers {
		if marker != "" && strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func logOutcome(out Outcome) {
	entry := log.WithFields(log.Fields{
		"image":    out.Artifact,
		"outcome":  out.Kind.String(),
		"attempts": out.Attempts,
	})
	if out.Kind != Completed {
		entry = entry.WithField("reason", out.Reason)
		if out.Status != 0 {
			entry = entry.WithField("status", out.Status)
		}
	}
	switch out.Kind {
	case Completed:
		entry.Infof("Completed: %s", out.Artifact)
	case TransientFailure:
		entry.Warnf("Timeout: %s", out.Artifact)
	case MalformedEvent:
		entry.Errorf("Malformed event: %s", out.Artifact)
	default:
		entry.Errorf("Failed: %s", out.Artifact)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
