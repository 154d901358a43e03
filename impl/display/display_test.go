package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/aceeric/pullgather/impl/ledger"

	"github.com/mattn/go-runewidth"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLedger() *ledger.Ledger {
	l := ledger.New()
	h, _ := l.CreateSubTask("alpine:3.19", "4abcf2066143", "alpine:3.19 (Downloading: 4abcf2066143)", 3408729)
	l.Update(h, 1704364)
	h, _ = l.CreateSubTask("busybox", "9ad63333ebc9", "busybox (Extracting: 9ad63333ebc9)", 2152262)
	l.Update(h, 2152262)
	return l
}

func TestDrawIsStable(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	c := New(&buf, WithWidth(100))
	l := sampleLedger()

	require.NoError(t, l.Render(c))
	first := buf.String()
	buf.Reset()
	require.NoError(t, l.Render(c))
	assert.Equal(t, first, buf.String())

	lines := strings.Split(strings.TrimSuffix(first, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "alpine:3.19 (Downloading: 4abcf2066143)"))
	assert.Contains(t, lines[0], "1.704MB/3.409MB")
	assert.Contains(t, lines[1], "2.152MB/2.152MB")
	assert.NotContains(t, first, eraseLine)
}

func TestRowTruncatesByDisplayWidth(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	c := New(&bytes.Buffer{}, WithWidth(10))
	row := c.row(ledger.SubTask{Description: strings.Repeat("日本", 20), Total: 10, Completed: 5})
	desc := strings.SplitN(row, " ", 2)[0]
	assert.LessOrEqual(t, runewidth.StringWidth(desc), minDescWidth)
	assert.True(t, strings.HasSuffix(strings.TrimRight(desc, " "), "…"))
}

func TestLiveRedrawErasesPreviousBlock(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, WithLive(true))
	l := sampleLedger()
	require.NoError(t, l.Render(c))
	assert.NotContains(t, buf.String(), eraseLine)

	buf.Reset()
	require.NoError(t, l.Render(c))
	assert.True(t, strings.HasPrefix(buf.String(), eraseLine+eraseLine))

	// a log line goes above the block and the block is drawn again
	buf.Reset()
	_, err := c.Write([]byte("hello\n"))
	require.NoError(t, err)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, eraseLine+eraseLine+"hello\n"))
	assert.Contains(t, out, "alpine:3.19")
}

func TestWriteWithoutBlock(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, WithLive(true))
	c.Write([]byte("first\n"))
	assert.Equal(t, "first\n", buf.String())
}

func TestStartStop(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, WithLive(true), WithRefresh(time.Millisecond))
	l := sampleLedger()
	c.Start(l)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Stop(l))
	assert.Contains(t, buf.String(), "busybox")

	// not live: Start does nothing and Stop draws once
	buf.Reset()
	c = New(&buf)
	c.Start(l)
	require.NoError(t, c.Stop(l))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
	assert.False(t, c.Live())
}

func TestFormatter(t *testing.T) {
	f := &Formatter{}
	entry := &log.Entry{
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "Timeout: alpine",
		Data:    log.Fields{"outcome": "transient", "attempts": 3},
	}
	b, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "03:04:05 WARN  Timeout: alpine attempts=3 outcome=transient\n", string(b))

	entry.Level = log.InfoLevel
	entry.Data = log.Fields{}
	b, _ = f.Format(entry)
	assert.Equal(t, "03:04:05 INFO  Timeout: alpine\n", string(b))

	f.Color = true
	entry.Level = log.ErrorLevel
	b, _ = f.Format(entry)
	assert.Contains(t, string(b), "Timeout: alpine")
}

func TestNoColor(t *testing.T) {
	t.Setenv("TERM", "xterm")
	t.Setenv("NO_COLOR", "")
	assert.False(t, HasColorSupport())
}

func TestHasColorSupportDumbTerm(t *testing.T) {
	t.Setenv("TERM", "dumb")
	assert.False(t, HasColorSupport())
}
