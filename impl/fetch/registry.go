package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aceeric/pullgather/impl/auth"
	"github.com/aceeric/pullgather/impl/event"
	"github.com/aceeric/pullgather/impl/globals"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"
)

const (
	// shortIdLen matches the layer ids the Docker daemon reports.
	shortIdLen   = 12
	copyBufSize  = 64 * 1024
	emitInterval = 100 * time.Millisecond
)

// Registry pulls image layers directly from the upstream registry and stores
// them as blobs in the image path. It reports progress with the same status
// records the Docker daemon uses so the rest of the system does not care which
// backend is in use.
type Registry struct {
	imagePath string
	platform  v1.Platform
}

// NewRegistry creates the registry backend.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.ImagePath == "" {
		return nil, errors.New("the registry backend requires an image path")
	}
	if err := os.MkdirAll(filepath.Join(opts.ImagePath, globals.BlobsDir), 0755); err != nil {
		return nil, err
	}
	return &Registry{
		imagePath: opts.ImagePath,
		platform:  v1.Platform{OS: opts.Os, Architecture: opts.Arch},
	}, nil
}

// Open resolves the image manifest and then streams the layer downloads.
func (r *Registry) Open(ctx context.Context, artifact string) (Stream, error) {
	ref, err := name.ParseReference(artifact)
	if err != nil {
		return nil, &ServiceError{Status: 400, Message: err.Error(), Err: err}
	}
	regOpts, err := auth.OptsFor(ref.Context().RegistryStr())
	if err != nil {
		return nil, &ServiceError{Status: 400, Message: err.Error(), Err: err}
	}
	if regOpts.Scheme == "http" {
		if ref, err = name.ParseReference(artifact, name.Insecure); err != nil {
			return nil, &ServiceError{Status: 400, Message: err.Error(), Err: err}
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	opts := []remote.Option{remote.WithContext(ctx)}
	if r.platform.OS != "" && r.platform.Architecture != "" {
		opts = append(opts, remote.WithPlatform(r.platform))
	}
	if regOpts.Username != "" || regOpts.Password != "" {
		opts = append(opts, remote.WithAuth(&authn.Basic{Username: regOpts.Username, Password: regOpts.Password}))
	}
	if regOpts.TlsCfg != nil {
		tr := remote.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = regOpts.TlsCfg
		opts = append(opts, remote.WithTransport(tr))
	}
	img, err := remote.Image(ref, opts...)
	if err != nil {
		cancel()
		return nil, fromRegistryError(err)
	}
	layers, err := img.Layers()
	if err != nil {
		cancel()
		return nil, fromRegistryError(err)
	}
	s := &registryStream{
		items:  make(chan item),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.run(ctx, r.imagePath, ref, layers)
	return s, nil
}

// fromRegistryError converts a go-containerregistry error into a ServiceError,
// keeping the HTTP status if the registry returned one.
func fromRegistryError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	status := 0
	var terr *transport.Error
	if errors.As(err, &terr) {
		status = terr.StatusCode
	}
	return &ServiceError{Status: status, Message: err.Error(), Err: err}
}

type item struct {
	ev  event.RawEvent
	err error
}

// registryStream is fed by a goroutine that downloads the layers one after the
// other.
type registryStream struct {
	items  chan item
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *registryStream) Next() (event.RawEvent, error) {
	it, ok := <-s.items
	if !ok {
		return event.RawEvent{}, io.EOF
	}
	return it.ev, it.err
}

// Close stops the download goroutine and waits for it to clean up.
func (s *registryStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		// unblock a pending send
		go func() {
			for range s.items {
			}
		}()
		s.wg.Wait()
	})
	return nil
}

func (s *registryStream) run(ctx context.Context, imagePath string, ref name.Reference, layers []v1.Layer) {
	defer s.wg.Done()
	defer close(s.items)
	if !s.send(ctx, item{ev: event.RawEvent{ID: ref.Identifier(), Status: "Pulling from " + ref.Context().RepositoryStr()}}) {
		return
	}
	for _, layer := range layers {
		if err := s.pullLayer(ctx, imagePath, layer); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.send(ctx, item{err: err})
			}
			return
		}
	}
}

// pullLayer downloads one layer to the blobs directory, reporting progress. The
// layer is written to a temp file and renamed once its digest is verified.
func (s *registryStream) pullLayer(ctx context.Context, imagePath string, layer v1.Layer) error {
	h, err := layer.Digest()
	if err != nil {
		return fromRegistryError(err)
	}
	dgst, err := digest.Parse(h.String())
	if err != nil {
		return fmt.Errorf("%w: layer digest %q: %s", ErrMalformedStream, h.String(), err)
	}
	id := dgst.Encoded()
	if len(id) > shortIdLen {
		id = id[:shortIdLen]
	}
	blobFile := filepath.Join(imagePath, globals.BlobsDir, dgst.Encoded())
	if _, err := os.Stat(blobFile); err == nil {
		log.Debugf("blob already exists: %s", blobFile)
		s.send(ctx, item{ev: event.RawEvent{ID: id, Status: "Already exists"}})
		return nil
	}
	size, err := layer.Size()
	if err != nil {
		return fromRegistryError(err)
	}
	if !s.send(ctx, item{ev: status(id, "Pulling fs layer")}) {
		return ctx.Err()
	}
	rc, err := layer.Compressed()
	if err != nil {
		return fromRegistryError(err)
	}
	defer rc.Close()

	tmpFile := filepath.Join(imagePath, globals.BlobsDir, uuid.New().String()+globals.PartialSuffix)
	f, err := os.Create(tmpFile)
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile)
	verifier := dgst.Verifier()
	w := io.MultiWriter(f, verifier)

	var current int64
	last := time.Time{}
	buf := make([]byte, copyBufSize)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				f.Close()
				return werr
			}
			current += int64(n)
			if time.Since(last) >= emitInterval || current == size {
				last = time.Now()
				if !s.send(ctx, item{ev: downloading(id, current, size)}) {
					f.Close()
					return ctx.Err()
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return fromRegistryError(rerr)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.send(ctx, item{ev: status(id, "Verifying Checksum")})
	if !verifier.Verified() {
		return &ServiceError{Message: fmt.Sprintf("digest mismatch for layer %s", dgst)}
	}
	if err := os.Rename(tmpFile, blobFile); err != nil {
		return err
	}
	s.send(ctx, item{ev: status(id, "Download complete")})
	return nil
}

// send delivers an item to the consumer, returning false if the stream was
// closed first.
func (s *registryStream) send(ctx context.Context, it item) bool {
	select {
	case s.items <- it:
		return true
	case <-ctx.Done():
		return false
	}
}

// status is a status record with an empty progress detail, which is how the
// daemon reports layer state changes.
func status(id, st string) event.RawEvent {
	return event.RawEvent{ID: id, Status: st, Progress: &event.ProgressDetail{}}
}

func downloading(id string, current, total int64) event.RawEvent {
	return event.RawEvent{
		ID:       id,
		Status:   "Downloading",
		Progress: &event.ProgressDetail{Current: &current, Total: &total},
	}
}
