package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/aceeric/pullgather/impl/admission"
	"github.com/aceeric/pullgather/impl/config"
	"github.com/aceeric/pullgather/impl/event"
	"github.com/aceeric/pullgather/impl/fetch"
	"github.com/aceeric/pullgather/impl/ledger"
	"github.com/aceeric/pullgather/mock"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *mock.Service
	gate   *admission.Controller
	ledger *ledger.Ledger
	sleeps []time.Duration
}

func newFixture() *fixture {
	return &fixture{
		svc:    mock.NewService(),
		gate:   admission.New(1),
		ledger: ledger.New(),
	}
}

// worker returns a worker whose backoff sleeps are recorded and skipped.
func (f *fixture) worker(opts Options) *Worker {
	w := New(f.svc, f.gate, f.ledger, opts)
	w.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		if f.gate.Active() != 0 {
			return fmt.Errorf("slot held during backoff")
		}
		return ctx.Err()
	}
	return w
}

func TestCompleted(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{Events: []event.RawEvent{
		mock.Status("", "Pulling from library/a"),
		mock.Progress("l1", "Downloading", 10, 100),
		mock.Progress("l2", "Downloading", 5, 50),
		mock.Progress("l1", "Downloading", 100, 100),
		mock.Status("l1", "Pull complete"),
	}})
	out := f.worker(Options{}).Run(context.Background(), "a")
	assert.Equal(t, Completed, out.Kind)
	assert.True(t, out.Ok())
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 3, out.Updates)
	assert.Empty(t, out.Reason)

	require.Equal(t, 2, f.ledger.Len())
	h, ok := f.ledger.Lookup("a", "l1")
	require.True(t, ok)
	st, err := f.ledger.Get(h)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Completed)
	assert.Equal(t, int64(100), st.Total)
	assert.Equal(t, "a (Downloading: l1)", st.Description)
	assert.Equal(t, 0, f.gate.Active())
}

func TestMissingProgressDetailCompletes(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{Events: []event.RawEvent{mock.Status("l1", "Waiting")}})
	out := f.worker(Options{}).Run(context.Background(), "a")
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, 0, f.ledger.Len())
}

func TestUnparseableIsSkipped(t *testing.T) {
	f := newFixture()
	total := int64(100)
	f.svc.Add("a", mock.Script{Events: []event.RawEvent{
		{ID: "l1", Status: "Downloading", Progress: &event.ProgressDetail{Total: &total}},
		mock.Progress("l1", "Downloading", 100, 100),
	}})
	out := f.worker(Options{}).Run(context.Background(), "a")
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, 1, out.Unparseable)
	assert.Equal(t, 1, out.Updates)
}

// A record with a field of the wrong type is skipped and the records after it
// still reach the ledger.
func TestWrongFieldTypeIsSkipped(t *testing.T) {
	config.Set(config.Configuration{})
	hook := logtest.NewGlobal()
	defer hook.Reset()

	scripts := map[string][]mock.Script{
		"busybox:latest": {{Raw: []string{
			`{"status":"Downloading","id":"abc","progressDetail":{"current":"lots","total":10}}`,
			`{"status":"Downloading","id":"def","progressDetail":{"current":10,"total":10}}`,
		}}},
	}
	server, addr := mock.DockerServer(scripts)
	defer server.Close()
	svc, err := fetch.NewDocker(fetch.Options{DockerHost: "tcp://" + addr, DockerApiVersion: "1.43"})
	require.NoError(t, err)
	defer svc.Close()

	l := ledger.New()
	out := New(svc, admission.New(1), l, Options{}).Run(context.Background(), "busybox")
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, 1, out.Unparseable)
	assert.Equal(t, 1, out.Updates)

	require.Equal(t, 1, l.Len())
	_, ok := l.Lookup("busybox", "def")
	assert.True(t, ok)
	_, ok = l.Lookup("busybox", "abc")
	assert.False(t, ok)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel && entry.Data["id"] == "abc" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestTimeoutIsTransient(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{OpenErr: mock.Timeout()})
	out := f.worker(Options{MaxAttempts: 1}).Run(context.Background(), "a")
	assert.Equal(t, TransientFailure, out.Kind)
	assert.Equal(t, 500, out.Status)
	assert.Contains(t, out.Reason, "Client.Timeout")
	assert.Equal(t, 0, f.gate.Active())
	assert.Empty(t, f.sleeps)
}

func TestTimeoutInStream(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{
		Events: []event.RawEvent{mock.Progress("l1", "Downloading", 1, 10)},
		Err:    mock.Timeout(),
	})
	out := f.worker(Options{MaxAttempts: 1}).Run(context.Background(), "a")
	assert.Equal(t, TransientFailure, out.Kind)
	assert.Equal(t, 1, out.Updates)
}

func TestRetryThenComplete(t *testing.T) {
	f := newFixture()
	f.svc.Add("a",
		mock.Script{Events: []event.RawEvent{mock.Progress("l1", "Downloading", 50, 100)}, Err: mock.Timeout()},
		mock.Script{Events: []event.RawEvent{mock.Progress("l1", "Downloading", 100, 100)}},
	)
	out := f.worker(Options{MaxAttempts: 3, Backoff: time.Second}).Run(context.Background(), "a")
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, out.Updates)
	assert.Equal(t, 2, f.svc.Opens("a"))
	require.Len(t, f.sleeps, 1)
	assert.GreaterOrEqual(t, f.sleeps[0], time.Second)

	// the retry reused the sub-task
	require.Equal(t, 1, f.ledger.Len())
	assert.Equal(t, int64(100), f.ledger.Snapshot()[0].Completed)
}

func TestRetryExhausted(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{OpenErr: mock.Timeout()})
	out := f.worker(Options{MaxAttempts: 3, Backoff: time.Second}).Run(context.Background(), "a")
	assert.Equal(t, TransientFailure, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, f.svc.Opens("a"))
	require.Len(t, f.sleeps, 2)
	assert.Greater(t, f.sleeps[1], f.sleeps[0])
}

func TestTerminalNotRetried(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{OpenErr: &fetch.ServiceError{Status: 404, Message: "manifest unknown"}})
	out := f.worker(Options{MaxAttempts: 3}).Run(context.Background(), "a")
	assert.Equal(t, TerminalFailure, out.Kind)
	assert.Equal(t, 404, out.Status)
	assert.Equal(t, "manifest unknown", out.Reason)
	assert.Equal(t, 1, out.Attempts)
}

func TestMalformedStream(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{Err: fmt.Errorf("%w: unexpected token", fetch.ErrMalformedStream)})
	out := f.worker(Options{MaxAttempts: 3}).Run(context.Background(), "a")
	assert.Equal(t, MalformedEvent, out.Kind)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, f.gate.Active())
}

// rejecting is a Progress that never accepts an update.
type rejecting struct{}

func (rejecting) CreateSubTask(string, string, string, int64) (ledger.Handle, bool) {
	return 0, false
}

func (rejecting) Update(ledger.Handle, int64) error {
	return ledger.ErrUnknownSubTask
}

func TestLedgerRejection(t *testing.T) {
	svc := mock.NewService().Add("a", mock.Script{Events: []event.RawEvent{mock.Progress("l1", "Downloading", 1, 2)}})
	gate := admission.New(1)
	out := New(svc, gate, rejecting{}, Options{}).Run(context.Background(), "a")
	assert.Equal(t, MalformedEvent, out.Kind)
	assert.Equal(t, 0, gate.Active())
	assert.Equal(t, 0, svc.Active())
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "read tcp: i/o deadline" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestNetTimeoutIsTransient(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{Err: &fetch.ServiceError{Message: "read failed", Err: netTimeout{}}})
	out := f.worker(Options{}).Run(context.Background(), "a")
	assert.Equal(t, TransientFailure, out.Kind)
}

func TestCustomTimeoutMarker(t *testing.T) {
	f := newFixture()
	f.svc.Add("a", mock.Script{OpenErr: &fetch.ServiceError{Message: "dial tcp: i/o timeout"}})
	out := f.worker(Options{TimeoutMarkers: []string{"i/o timeout"}}).Run(context.Background(), "a")
	assert.Equal(t, TransientFailure, out.Kind)

	f = newFixture()
	f.svc.Add("a", mock.Script{OpenErr: mock.Timeout()})
	out = f.worker(Options{TimeoutMarkers: []string{"i/o timeout"}}).Run(context.Background(), "a")
	assert.Equal(t, TerminalFailure, out.Kind)
}

func TestCancelled(t *testing.T) {
	f := newFixture()
	block := make(chan struct{})
	f.svc.Add("a", mock.Script{Block: block})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome)
	go func() { done <- f.worker(Options{MaxAttempts: 3}).Run(ctx, "a") }()
	assert.Eventually(t, func() bool { return f.svc.Active() == 1 }, time.Second, time.Millisecond)
	cancel()
	out := <-done
	assert.Equal(t, TerminalFailure, out.Kind)
	assert.Equal(t, "cancelled", out.Reason)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, f.gate.Active())
	assert.Equal(t, 0, f.svc.Active())
}

func TestCancelledWhileWaitingForSlot(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.gate.Acquire(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := f.worker(Options{}).Run(ctx, "a")
	assert.Equal(t, TerminalFailure, out.Kind)
	assert.Equal(t, "cancelled", out.Reason)
	assert.Equal(t, 0, f.svc.Opens("a"))
	f.gate.Release()
}

func TestKindText(t *testing.T) {
	b, err := json.Marshal(Outcome{Artifact: "a", Kind: MalformedEvent})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"outcome":"malformed"`)

	var out Outcome
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, MalformedEvent, out.Kind)
	assert.Error(t, json.Unmarshal([]byte(`{"outcome":"bogus"}`), &out))
	assert.Equal(t, "kind(9)", Kind(9).String())
}
