package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aceeric/pullgather/impl/auth"
	"github.com/aceeric/pullgather/impl/event"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/google/go-containerregistry/pkg/name"
	log "github.com/sirupsen/logrus"
)

// Docker pulls images through the Docker Engine API: POST /images/create. The
// daemon does the actual pull and streams JSON status records back.
type Docker struct {
	cli      *client.Client
	platform string
}

// NewDocker creates a Docker Engine client. The daemon address comes from the
// environment (DOCKER_HOST etc.) unless overridden in the passed options.
func NewDocker(opts Options) (*Docker, error) {
	clientOpts := []client.Opt{client.FromEnv}
	if opts.DockerHost != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.DockerHost))
	}
	if opts.DockerApiVersion != "" {
		clientOpts = append(clientOpts, client.WithVersion(opts.DockerApiVersion))
	} else {
		clientOpts = append(clientOpts, client.WithAPIVersionNegotiation())
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}
	return &Docker{cli: cli, platform: platform(opts)}, nil
}

// Open starts pulling the passed image and returns the daemon's status stream.
func (d *Docker) Open(ctx context.Context, artifact string) (Stream, error) {
	pullOpts := types.ImagePullOptions{Platform: d.platform}
	encoded, err := registryAuth(artifact)
	if err != nil {
		return nil, &ServiceError{Status: 400, Message: err.Error(), Err: err}
	}
	pullOpts.RegistryAuth = encoded
	rc, err := d.cli.ImagePull(ctx, artifact, pullOpts)
	if err != nil {
		return nil, fromDockerError(err)
	}
	return &dockerStream{rc: rc, dec: json.NewDecoder(rc)}, nil
}

// Close closes the Docker client.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// registryAuth encodes credentials for the registry of the passed image, if the
// registry is configured with any. An empty string means anonymous.
func registryAuth(artifact string) (string, error) {
	ref, err := name.ParseReference(artifact)
	if err != nil {
		return "", err
	}
	reg := ref.Context().RegistryStr()
	opts, err := auth.OptsFor(reg)
	if err != nil {
		return "", err
	}
	if opts.Username == "" && opts.Password == "" {
		return "", nil
	}
	log.Debugf("using configured credentials for registry %s", reg)
	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      opts.Username,
		Password:      opts.Password,
		ServerAddress: reg,
	})
}

// fromDockerError converts an error from the Docker client into a ServiceError,
// recovering an HTTP-like status from the errdefs classification.
func fromDockerError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	status := 0
	switch {
	case errdefs.IsInvalidParameter(err):
		status = 400
	case errdefs.IsUnauthorized(err):
		status = 401
	case errdefs.IsForbidden(err):
		status = 403
	case errdefs.IsNotFound(err):
		status = 404
	case errdefs.IsConflict(err):
		status = 409
	case errdefs.IsSystem(err):
		status = 500
	case errdefs.IsUnavailable(err):
		status = 503
	case errdefs.IsDeadline(err):
		status = 504
	}
	return &ServiceError{Status: status, Message: err.Error(), Err: err}
}

// dockerStream decodes the daemon's JSON status stream one record at a time.
type dockerStream struct {
	rc   io.ReadCloser
	dec  *json.Decoder
	once sync.Once
}

func (s *dockerStream) Next() (event.RawEvent, error) {
	var ev event.RawEvent
	if err := s.dec.Decode(&ev); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return ev, io.EOF
		case errors.As(err, &typeErr):
			// the decoder consumed the whole record so the stream can go on
			ev.Invalid = err.Error()
		case errors.As(err, &syntaxErr):
			return ev, fmt.Errorf("%w: %s", ErrMalformedStream, err)
		case errors.Is(err, context.Canceled):
			return ev, err
		default:
			return ev, &ServiceError{Message: err.Error(), Err: err}
		}
	}
	if ev.Failed() {
		code, msg := ev.Failure()
		return ev, &ServiceError{Status: code, Message: msg}
	}
	return ev, nil
}

func (s *dockerStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.rc.Close()
	})
	return err
}
