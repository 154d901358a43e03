package display

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

var (
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	debugStyle = lipgloss.NewStyle().Faint(true)
)

// HasColorSupport returns false if NO_COLOR is set (to anything, including empty)
// or the terminal is dumb.
func HasColorSupport() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

// Formatter is a logrus formatter for the console: time, level, message, then
// fields as key=value sorted by key. Warnings are yellow and errors red if Color
// is true.
type Formatter struct {
	Color bool
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %-5s %s", entry.Time.Format("15:04:05"), levelText(entry.Level), entry.Message)
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	line := b.String()
	if f.Color {
		switch entry.Level {
		case log.WarnLevel:
			line = warnStyle.Render(line)
		case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
			line = errorStyle.Render(line)
		case log.DebugLevel, log.TraceLevel:
			line = debugStyle.Render(line)
		}
	}
	return []byte(line + "\n"), nil
}

func levelText(level log.Level) string {
	s := strings.ToUpper(level.String())
	if level == log.WarnLevel {
		return "WARN"
	}
	return s
}
