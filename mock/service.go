package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/aceeric/pullgather/impl/event"
	"github.com/aceeric/pullgather/impl/fetch"
)

// Script is what the mock does for one pull attempt. If OpenErr is set, Open
// fails with it. Otherwise the stream blocks until Block is closed (if Block is
// not nil), returns Events one at a time with Delay before each, and then returns
// Err, or io.EOF if Err is nil.
type Script struct {
	OpenErr error
	Events  []event.RawEvent
	// Raw lines are written after Events by the Docker server only.
	Raw   []string
	Err   error
	Delay time.Duration
	Block chan struct{}
}

// Service is an in-memory fetch.Service. Each Open of an artifact consumes the
// next script for that artifact. The last script repeats. An artifact with no
// scripts produces an empty stream.
type Service struct {
	mu        sync.Mutex
	scripts   map[string][]Script
	opens     map[string]int
	active    int
	maxActive int
	history   []string
}

// NewService returns a service with no scripts.
func NewService() *Service {
	return &Service{
		scripts: make(map[string][]Script),
		opens:   make(map[string]int),
	}
}

// Add appends scripts for the passed artifact, one per attempt.
func (s *Service) Add(artifact string, scripts ...Script) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[artifact] = append(s.scripts[artifact], scripts...)
	return s
}

func (s *Service) Open(ctx context.Context, artifact string) (fetch.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.opens[artifact]
	s.opens[artifact]++
	script := Script{}
	if scripts := s.scripts[artifact]; len(scripts) > 0 {
		script = scripts[min(n, len(scripts)-1)]
	}
	if script.OpenErr != nil {
		s.history = append(s.history, "fail "+artifact)
		return nil, script.OpenErr
	}
	s.active++
	s.maxActive = max(s.maxActive, s.active)
	s.history = append(s.history, "open "+artifact)
	return &stream{ctx: ctx, svc: s, artifact: artifact, script: script}, nil
}

// Opens returns how many times the artifact was opened.
func (s *Service) Opens(artifact string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[artifact]
}

// Active returns the number of open streams.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MaxActive returns the most streams that were ever open at the same time.
func (s *Service) MaxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// History returns "open <artifact>", "fail <artifact>" and "close <artifact>"
// entries in the order they happened.
func (s *Service) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

func (s *Service) closed(artifact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.history = append(s.history, "close "+artifact)
}

type stream struct {
	ctx      context.Context
	svc      *Service
	artifact string
	script   Script
	next     int
	started  bool
	once     sync.Once
}

func (st *stream) Next() (event.RawEvent, error) {
	if !st.started {
		st.started = true
		if st.script.Block != nil {
			select {
			case <-st.script.Block:
			case <-st.ctx.Done():
				return event.RawEvent{}, st.ctx.Err()
			}
		}
	}
	if st.next < len(st.script.Events) {
		if st.script.Delay > 0 {
			select {
			case <-time.After(st.script.Delay):
			case <-st.ctx.Done():
				return event.RawEvent{}, st.ctx.Err()
			}
		}
		ev := st.script.Events[st.next]
		st.next++
		return ev, nil
	}
	if st.script.Err != nil {
		return event.RawEvent{}, st.script.Err
	}
	return event.RawEvent{}, io.EOF
}

func (st *stream) Close() error {
	st.once.Do(func() { st.svc.closed(st.artifact) })
	return nil
}

// Progress returns an event with a complete progress detail.
func Progress(id, status string, current, total int64) event.RawEvent {
	return event.RawEvent{
		ID:       id,
		Status:   status,
		Progress: &event.ProgressDetail{Current: &current, Total: &total},
	}
}

// Status returns an event with no progress detail.
func Status(id, status string) event.RawEvent {
	return event.RawEvent{ID: id, Status: status}
}

// Timeout returns the error the Docker daemon reports when its HTTP client
// times out talking to the registry.
func Timeout() error {
	return &fetch.ServiceError{
		Status:  500,
		Message: `Get "https://registry-1.docker.io/v2/": net/http: request canceled (Client.Timeout exceeded while awaiting headers)`,
	}
}
