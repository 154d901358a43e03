// Package display renders the progress ledger on the console and styles log
// lines by severity.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aceeric/pullgather/impl/ledger"

	"github.com/charmbracelet/bubbles/progress"
	units "github.com/docker/go-units"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

const (
	// DefaultRefresh is how often a live console redraws.
	DefaultRefresh = 100 * time.Millisecond
	defaultWidth   = 100
	minDescWidth   = 20
	barWidth       = 30
	countWidth     = 21
	// cursor up one line, then erase the line
	eraseLine = "\x1b[1A\x1b[2K"
)

// Console draws ledger snapshots as a block of rows, one per sub-task. A live
// console redraws the block in place. A console that is not live only draws
// when Draw is called, which Stop does once. Console is also an io.Writer so
// log output can be printed above the block without corrupting it.
type Console struct {
	out     io.Writer
	live    bool
	width   int
	refresh time.Duration
	bar     progress.Model

	mu    sync.Mutex
	lines int
	last  []string

	stop chan struct{}
	done chan struct{}
}

// Option configures a Console.
type Option func(*Console)

// WithLive sets whether the console redraws in place.
func WithLive(live bool) Option {
	return func(c *Console) {
		c.live = live
	}
}

// WithWidth sets the total row width.
func WithWidth(w int) Option {
	return func(c *Console) {
		c.width = w
	}
}

// WithRefresh sets the live redraw period.
func WithRefresh(d time.Duration) Option {
	return func(c *Console) {
		c.refresh = d
	}
}

// New returns a console writing to out. It is not live unless WithLive says so.
func New(out io.Writer, opts ...Option) *Console {
	c := &Console{
		out:     out,
		width:   defaultWidth,
		refresh: DefaultRefresh,
	}
	for _, opt := range opts {
		opt(c)
	}
	if HasColorSupport() {
		c.bar = progress.New(
			progress.WithWidth(barWidth),
			progress.WithScaledGradient("#0087AF", "#00D7FF"),
			progress.WithoutPercentage(),
		)
	} else {
		c.bar = progress.New(
			progress.WithWidth(barWidth),
			progress.WithSolidFill("#808080"),
			progress.WithoutPercentage(),
		)
	}
	return c
}

// ForFile returns a console for the passed file. It is live if the file is a
// terminal, and as wide as the terminal.
func ForFile(f *os.File) *Console {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return New(f)
	}
	width := defaultWidth
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		width = w
	}
	return New(f, WithLive(true), WithWidth(width))
}

// Live returns true if the console redraws in place.
func (c *Console) Live() bool {
	return c.live
}

// Draw renders the passed snapshot, replacing the previous block if the console
// is live.
func (c *Console) Draw(tasks []ledger.SubTask) error {
	rows := make([]string, len(tasks))
	for i, st := range tasks {
		rows[i] = c.row(st)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = rows
	if c.live {
		c.erase()
	}
	return c.print()
}

// Write prints p above the block.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live || c.lines == 0 {
		return c.out.Write(p)
	}
	c.erase()
	n, err := c.out.Write(p)
	if err != nil {
		return n, err
	}
	return n, c.print()
}

// Start redraws the ledger at the refresh rate until Stop is called. It does
// nothing for a console that is not live.
func (c *Console) Start(l *ledger.Ledger) {
	if !c.live || c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Render(c)
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop stops redrawing and draws the ledger one last time.
func (c *Console) Stop(l *ledger.Ledger) error {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
	return l.Render(c)
}

func (c *Console) erase() {
	if c.lines > 0 {
		io.WriteString(c.out, strings.Repeat(eraseLine, c.lines))
	}
	c.lines = 0
}

func (c *Console) print() error {
	if len(c.last) == 0 {
		return nil
	}
	if _, err := io.WriteString(c.out, strings.Join(c.last, "\n")+"\n"); err != nil {
		return err
	}
	c.lines = len(c.last)
	return nil
}

// row renders one sub-task as description, bar, and completed/total.
func (c *Console) row(st ledger.SubTask) string {
	descWidth := max(c.width-barWidth-countWidth-2, minDescWidth)
	desc := runewidth.FillRight(runewidth.Truncate(st.Description, descWidth, "…"), descWidth)
	counts := fmt.Sprintf("%s/%s", units.HumanSize(float64(st.Completed)), units.HumanSize(float64(st.Total)))
	return desc + " " + c.bar.ViewAs(st.Fraction()) + " " + counts
}
