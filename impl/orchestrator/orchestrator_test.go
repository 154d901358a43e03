package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aceeric/pullgather/impl/event"
	"github.com/aceeric/pullgather/impl/fetch"
	"github.com/aceeric/pullgather/impl/ledger"
	"github.com/aceeric/pullgather/impl/orchestrator"
	"github.com/aceeric/pullgather/impl/worker"
	"github.com/aceeric/pullgather/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneLayer(id string) mock.Script {
	return mock.Script{Events: []event.RawEvent{mock.Progress(id, "Downloading", 100, 100)}}
}

func TestOneSlotRunsOneAtATime(t *testing.T) {
	svc := mock.NewService().Add("a", oneLayer("x")).Add("b", oneLayer("x"))
	o := orchestrator.New(orchestrator.Options{Service: svc, Concurrency: 1})
	report := o.Run(context.Background(), []string{"a", "b"})

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "a", report.Outcomes[0].Artifact)
	assert.Equal(t, "b", report.Outcomes[1].Artifact)
	for _, out := range report.Outcomes {
		assert.Equal(t, worker.Completed, out.Kind)
	}
	// same layer id in two images is two sub-tasks
	tasks := o.Ledger().Snapshot()
	require.Len(t, tasks, 2)
	for _, st := range tasks {
		assert.Equal(t, int64(100), st.Total)
		assert.Equal(t, int64(100), st.Completed)
	}
	// the second pull opened only after the first closed
	h := svc.History()
	require.Len(t, h, 4)
	assert.Equal(t, h[0][len("open "):], h[1][len("close "):])
	assert.Equal(t, "open", h[0][:4])
	assert.Equal(t, "close", h[1][:5])
	assert.Equal(t, 1, report.PeakActive)
	assert.Equal(t, 1, report.Concurrency)
}

func TestTimeoutDoesNotStopTheRun(t *testing.T) {
	svc := mock.NewService().
		Add("a", mock.Script{OpenErr: mock.Timeout()}).
		Add("b", oneLayer("l1"))
	o := orchestrator.New(orchestrator.Options{Service: svc, Concurrency: 1, Worker: worker.Options{MaxAttempts: 1}})
	report := o.Run(context.Background(), []string{"a", "b"})

	a, ok := report.ByArtifact("a")
	require.True(t, ok)
	assert.Equal(t, worker.TransientFailure, a.Kind)
	b, ok := report.ByArtifact("b")
	require.True(t, ok)
	assert.Equal(t, worker.Completed, b.Kind)
	assert.Equal(t, 0, o.Active())
	assert.Equal(t, 0, o.Waiting())
	assert.Len(t, o.Outcomes(), 2)
}

func TestConcurrencyBound(t *testing.T) {
	for _, c := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("c=%d", c), func(t *testing.T) {
			svc := mock.NewService()
			var artifacts []string
			for i := 0; i < 12; i++ {
				a := fmt.Sprintf("img%d", i)
				artifacts = append(artifacts, a)
				svc.Add(a, mock.Script{
					Delay: time.Millisecond,
					Events: []event.RawEvent{
						mock.Progress("l1", "Downloading", 1, 3),
						mock.Progress("l1", "Downloading", 2, 3),
						mock.Progress("l1", "Downloading", 3, 3),
					},
				})
			}
			report := orchestrator.New(orchestrator.Options{Service: svc, Concurrency: c}).Run(context.Background(), artifacts)
			assert.LessOrEqual(t, svc.MaxActive(), c)
			assert.LessOrEqual(t, report.PeakActive, c)
			assert.Len(t, report.Outcomes, len(artifacts))
			assert.Len(t, report.Succeeded(), len(artifacts))
		})
	}
}

func TestOneOutcomePerArtifact(t *testing.T) {
	svc := mock.NewService().
		Add("ok", oneLayer("l1")).
		Add("missing", mock.Script{OpenErr: &fetch.ServiceError{Status: 404, Message: "not found"}}).
		Add("garbled", mock.Script{Err: fmt.Errorf("%w: bad json", fetch.ErrMalformedStream)}).
		Add("slow", mock.Script{OpenErr: mock.Timeout()}, oneLayer("l1"))
	artifacts := []string{"ok", "missing", "garbled", "slow"}
	report := orchestrator.New(orchestrator.Options{
		Service:     svc,
		Concurrency: 2,
		Worker:      worker.Options{MaxAttempts: 2},
	}).Run(context.Background(), artifacts)

	require.Len(t, report.Outcomes, 4)
	for i, a := range artifacts {
		assert.Equal(t, a, report.Outcomes[i].Artifact)
	}
	counts := report.Counts()
	assert.Equal(t, 2, counts[worker.Completed])
	assert.Equal(t, 1, counts[worker.TerminalFailure])
	assert.Equal(t, 1, counts[worker.MalformedEvent])
	slow, _ := report.ByArtifact("slow")
	assert.Equal(t, 2, slow.Attempts)
	assert.ElementsMatch(t, []string{"ok", "slow"}, report.Succeeded())
	assert.Len(t, report.Failed(), 2)
	assert.Contains(t, report.Summary(), "4 images in")
	assert.Contains(t, report.Summary(), "2 completed, 1 terminal, 1 malformed")
}

func TestCancelRun(t *testing.T) {
	block := make(chan struct{})
	svc := mock.NewService().
		Add("a", mock.Script{Block: block}).
		Add("b", mock.Script{Block: block}).
		Add("c", mock.Script{Block: block})
	o := orchestrator.New(orchestrator.Options{Service: svc, Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan orchestrator.Report)
	go func() { done <- o.Run(ctx, []string{"a", "b", "c"}) }()
	require.Eventually(t, func() bool { return o.Active() == 2 && o.Waiting() == 1 }, time.Second, time.Millisecond)
	cancel()
	report := <-done
	for _, out := range report.Outcomes {
		assert.Equal(t, worker.TerminalFailure, out.Kind)
		assert.Equal(t, "cancelled", out.Reason)
	}
	assert.Equal(t, 0, svc.Active())
}

func TestEmptyRun(t *testing.T) {
	report := orchestrator.New(orchestrator.Options{Service: mock.NewService()}).Run(context.Background(), nil)
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, 1, report.Concurrency)
	assert.Contains(t, report.Summary(), "0 images")
}

type recorder struct {
	draws [][]ledger.SubTask
}

func (r *recorder) Draw(tasks []ledger.SubTask) error {
	r.draws = append(r.draws, tasks)
	return nil
}

func TestRenderAfterRunIsStable(t *testing.T) {
	l := ledger.New()
	svc := mock.NewService().Add("a", oneLayer("l1"), oneLayer("l2"))
	orchestrator.New(orchestrator.Options{Service: svc, Ledger: l}).Run(context.Background(), []string{"a"})
	r := &recorder{}
	require.NoError(t, l.Render(r))
	require.NoError(t, l.Render(r))
	assert.Equal(t, r.draws[0], r.draws[1])
}

func TestWriteReport(t *testing.T) {
	svc := mock.NewService().Add("a", oneLayer("l1")).Add("b", mock.Script{OpenErr: &fetch.ServiceError{Status: 401, Message: "unauthorized"}})
	report := orchestrator.New(orchestrator.Options{Service: svc, Concurrency: 3}).Run(context.Background(), []string{"a", "b"})
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got orchestrator.Report
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, worker.TerminalFailure, got.Outcomes[1].Kind)
	assert.Equal(t, 401, got.Outcomes[1].Status)
	assert.Equal(t, 3, got.Concurrency)
	require.Len(t, got.Progress, 1)
	assert.Equal(t, int64(100), got.Progress[0].Completed)

	assert.Error(t, report.WriteFile(filepath.Join(t.TempDir(), "no", "such", "dir", "r.json")))
}
