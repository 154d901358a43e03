// Package status runs an optional HTTP server reporting on a run in progress:
// /health, /status (JSON), and /metrics (prometheus).
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/aceeric/pullgather/impl/globals"
	"github.com/aceeric/pullgather/impl/ledger"
	"github.com/aceeric/pullgather/impl/metrics"
	"github.com/aceeric/pullgather/impl/worker"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const listenerTimeout = 3 * time.Second

// Source is what the server reports on.
type Source interface {
	Artifacts() []ledger.ArtifactProgress
	Outcomes() []worker.Outcome
	Active() int
	Waiting() int
}

// Status is the /status response body.
type Status struct {
	Started  time.Time                 `json:"started"`
	Active   int                       `json:"active"`
	Waiting  int                       `json:"waiting"`
	Progress []ledger.ArtifactProgress `json:"progress"`
	Outcomes []worker.Outcome          `json:"outcomes"`
}

type Server struct {
	e       *echo.Echo
	src     Source
	started time.Time
	errCh   chan error
}

// New creates the server and enables metrics.
func New(src Source) *Server {
	metrics.Init()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(globals.GetEchoLoggingFunc())
	s := &Server{e: e, src: src, started: time.Now(), errCh: make(chan error, 1)}
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/status", s.status)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, Status{
		Started:  s.started,
		Active:   s.src.Active(),
		Waiting:  s.src.Waiting(),
		Progress: s.src.Artifacts(),
		Outcomes: s.src.Outcomes(),
	})
}

// Start starts listening on the passed address, e.g. ":8080" or "127.0.0.1:0",
// and returns once the listener is up.
func (s *Server) Start(addr string) error {
	go func() {
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
	if err := s.waitForListener(); err != nil {
		return err
	}
	log.Infof("status server listening on %s", s.Addr())
	return nil
}

// waitForListener waits for the listener in the Echo server to be initialized
// so the caller can know the address when the port was zero.
func (s *Server) waitForListener() error {
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	for {
		select {
		case err := <-s.errCh:
			return err
		case <-ctx.Done():
			return errors.New("timed out waiting for the status server listener")
		default:
			if s.e.ListenerAddr() != nil {
				return nil
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Addr returns the listener address, or nil if not started.
func (s *Server) Addr() net.Addr {
	return s.e.ListenerAddr()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
