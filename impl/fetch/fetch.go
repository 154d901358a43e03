// Package fetch defines the pull service that produces a stream of status events
// for one image, and the two backends that implement it: the Docker Engine API
// and a direct registry pull.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aceeric/pullgather/impl/config"
	"github.com/aceeric/pullgather/impl/event"
)

// ErrMalformedStream is wrapped by a stream that produced a record that could not
// be decoded into an event.
var ErrMalformedStream = errors.New("malformed event stream")

// ServiceError is a failure reported by the pull service, either when opening the
// stream or in the stream itself. Status is an HTTP-like status code, or zero if
// the service did not supply one.
type ServiceError struct {
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Stream is the event stream of one pull. Next returns io.EOF once the pull is
// complete. Close must always be called and may be called more than once.
type Stream interface {
	Next() (event.RawEvent, error)
	Close() error
}

// Service opens pull streams.
type Service interface {
	Open(ctx context.Context, artifact string) (Stream, error)
}

// Options configures a backend.
type Options struct {
	// Backend is config.DockerBackend or config.RegistryBackend.
	Backend string
	// DockerHost overrides DOCKER_HOST for the docker backend.
	DockerHost string
	// DockerApiVersion pins the API version. Empty means negotiate.
	DockerApiVersion string
	// ImagePath is where the registry backend stores blobs.
	ImagePath string
	Os        string
	Arch      string
}

// New creates the service for the backend named in the passed options.
func New(opts Options) (Service, error) {
	switch strings.ToLower(opts.Backend) {
	case config.DockerBackend, "":
		return NewDocker(opts)
	case config.RegistryBackend:
		return NewRegistry(opts)
	}
	return nil, fmt.Errorf("unsupported backend: %q", opts.Backend)
}

// platform returns os/arch, or the empty string if neither is set.
func platform(opts Options) string {
	if opts.Os == "" && opts.Arch == "" {
		return ""
	}
	return opts.Os + "/" + opts.Arch
}
