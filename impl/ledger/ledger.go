// Package ledger implements the progress ledger: a concurrency-safe registry of
// the sub-tasks (image layers) of every image being pulled. Sub-tasks are keyed
// by image and layer id because layer ids are only unique within one image's
// pull stream. Entries are never removed during a run.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownSubTask is returned when an update references a handle that was
// never issued by the ledger.
var ErrUnknownSubTask = errors.New("unknown sub-task")

// Key identifies a sub-task.
type Key struct {
	Artifact string `json:"artifact"`
	ID       string `json:"id"`
}

// Handle references a sub-task. The zero value is never issued.
type Handle int

// SubTask is a copy of one ledger entry.
type SubTask struct {
	Key
	Description string    `json:"description"`
	Total       int64     `json:"total"`
	Completed   int64     `json:"completed"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// Fraction returns completed/total clamped to [0,1]. A sub-task with a zero
// total has no measurable progress and reports 0.
func (s SubTask) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Completed) / float64(s.Total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// ArtifactProgress aggregates the sub-tasks of one image.
type ArtifactProgress struct {
	Artifact  string `json:"artifact"`
	SubTasks  int    `json:"subTasks"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
}

// Renderer is the display collaborator that a snapshot is handed to.
type Renderer interface {
	Draw(tasks []SubTask) error
}

// Ledger holds the sub-tasks. All methods are safe for concurrent use.
type Ledger struct {
	mu    sync.RWMutex
	index map[Key]Handle
	tasks []SubTask
	now   func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		index: make(map[Key]Handle),
		now:   time.Now,
	}
}

// CreateSubTask registers a sub-task for the passed image and id if one does not
// already exist and returns its handle. If the sub-task already exists the
// existing handle is returned with false: the first caller's description and
// total are kept and later values are ignored.
func (l *Ledger) CreateSubTask(artifact, id, description string, total int64) (Handle, bool) {
	key := Key{Artifact: artifact, ID: id}
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, exists := l.index[key]; exists {
		return h, false
	}
	now := l.now()
	l.tasks = append(l.tasks, SubTask{
		Key:         key,
		Description: description,
		Total:       total,
		Created:     now,
		Updated:     now,
	})
	h := Handle(len(l.tasks))
	l.index[key] = h
	return h, true
}

// Update stores the passed completed count. The value is stored as reported,
// even if it is lower than the current value.
func (l *Ledger) Update(h Handle, completed int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h <= 0 || int(h) > len(l.tasks) {
		return fmt.Errorf("%w: handle %d", ErrUnknownSubTask, h)
	}
	t := &l.tasks[h-1]
	t.Completed = completed
	t.Updated = l.now()
	return nil
}

// Lookup returns the handle for the passed image and id, if it exists.
func (l *Ledger) Lookup(artifact, id string) (Handle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, exists := l.index[Key{Artifact: artifact, ID: id}]
	return h, exists
}

// Get returns a copy of the sub-task referenced by the passed handle.
func (l *Ledger) Get(h Handle) (SubTask, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h <= 0 || int(h) > len(l.tasks) {
		return SubTask{}, fmt.Errorf("%w: handle %d", ErrUnknownSubTask, h)
	}
	return l.tasks[h-1], nil
}

// Len returns the number of sub-tasks.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tasks)
}

// Snapshot returns a copy of all sub-tasks in creation order.
func (l *Ledger) Snapshot() []SubTask {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := make([]SubTask, len(l.tasks))
	copy(snap, l.tasks)
	return snap
}

// Render hands a snapshot to the passed renderer. The ledger is not locked while
// the renderer draws.
func (l *Ledger) Render(r Renderer) error {
	return r.Draw(l.Snapshot())
}

// Artifacts aggregates the sub-tasks by image, in the order in which each image
// first appeared in the ledger.
func (l *Ledger) Artifacts() []ArtifactProgress {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos := make(map[string]int)
	var res []ArtifactProgress
	for _, t := range l.tasks {
		i, exists := pos[t.Artifact]
		if !exists {
			i = len(res)
			pos[t.Artifact] = i
			res = append(res, ArtifactProgress{Artifact: t.Artifact})
		}
		res[i].SubTasks++
		res[i].Total += t.Total
		res[i].Completed += t.Completed
	}
	return res
}
