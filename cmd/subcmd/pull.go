package subcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/aceeric/pullgather/impl/config"
	"github.com/aceeric/pullgather/impl/display"
	"github.com/aceeric/pullgather/impl/fetch"
	"github.com/aceeric/pullgather/impl/imagelist"
	"github.com/aceeric/pullgather/impl/orchestrator"
	"github.com/aceeric/pullgather/impl/status"
	"github.com/aceeric/pullgather/impl/worker"

	log "github.com/sirupsen/logrus"
)

// ErrIncomplete is returned by Pull in strict mode when at least one image was
// not pulled.
var ErrIncomplete = errors.New("not all images were pulled")

// Pull pulls the configured images, drawing progress on the passed console until
// every image has an outcome. It returns an error only if the run could not be
// started, the report could not be written, or in strict mode if any image
// failed. Cancelling the context stops the pulls in flight.
func Pull(ctx context.Context, console *display.Console) error {
	images, err := imagelist.Resolve(config.GetImages(), config.GetImageFile())
	if err != nil {
		return err
	}
	if len(images) == 0 {
		log.Warn("no images to pull")
	}
	svc, err := fetch.New(fetch.Options{
		Backend:          config.GetBackend(),
		DockerHost:       config.GetDockerHost(),
		DockerApiVersion: config.GetDockerApiVersion(),
		ImagePath:        config.GetImagePath(),
		Os:               config.GetOs(),
		Arch:             config.GetArch(),
	})
	if err != nil {
		return err
	}
	if c, ok := svc.(io.Closer); ok {
		defer c.Close()
	}
	orch := orchestrator.New(orchestrator.Options{
		Service:     svc,
		Concurrency: int(config.GetConcurrency()),
		Worker: worker.Options{
			MaxAttempts:    int(config.GetMaxAttempts()),
			Backoff:        config.RetryBackoffDuration(),
			TimeoutMarkers: config.GetTimeoutMarkers(),
		},
	})

	if port := config.GetStatusPort(); port != 0 {
		srv := status.New(orch)
		if err := srv.Start(net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port)))); err != nil {
			return fmt.Errorf("error starting the status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	console.Start(orch.Ledger())
	report := orch.Run(ctx, images)
	if err := console.Stop(orch.Ledger()); err != nil {
		log.Errorf("error drawing progress: %s", err)
	}

	if path := config.GetReportFile(); path != "" {
		if err := report.WriteFile(path); err != nil {
			return fmt.Errorf("error writing report file: %w", err)
		}
		log.Infof("report written to %s", path)
	}
	if config.GetStrict() && len(report.Failed()) != 0 {
		return ErrIncomplete
	}
	return nil
}
