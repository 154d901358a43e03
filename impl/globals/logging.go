package globals

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aceeric/pullgather/impl/display"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const msg = "status server %s:%s status=%d latency=%s host=%s ip=%s"

// ConfigureLogging sets the logger level and output. If logFile is not empty then
// logging goes to the file in logrus text format. Otherwise it goes to the passed
// console writer with the console formatter.
func ConfigureLogging(level string, logFile string, console io.Writer) error {
	log.SetLevel(xlatLogLevel(level))
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("unable to open log file %s: %w", logFile, err)
		}
		log.SetOutput(f)
		log.SetFormatter(&log.TextFormatter{})
		return nil
	}
	if console == nil {
		console = os.Stderr
	}
	log.SetOutput(console)
	log.SetFormatter(&display.Formatter{Color: display.HasColorSupport()})
	return nil
}

// xlatLogLevel translates the passed 'level' string to a logger const. An empty
// level is info.
func xlatLogLevel(level string) log.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO", "":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "TRACE":
		return log.TraceLevel
	}
	return log.FatalLevel
}

// GetEchoLoggingFunc gets the status server logging function
func GetEchoLoggingFunc() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			// the health check is polled and would clutter the log
			if req.RequestURI == "/health" {
				return nil
			}

			flds := []interface{}{req.Method, req.RequestURI, res.Status, time.Since(start), req.Host, c.RealIP()}
			switch {
			case res.Status >= 500:
				log.Errorf(msg, flds...)
			case res.Status >= 400:
				log.Warnf(msg, flds...)
			default:
				log.Debugf(msg, flds...)
			}
			return nil
		}
	}
}
