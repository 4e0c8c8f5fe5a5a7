package ota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/bytefmt"
)

// Outcome is the result of the single request served by a publisher.
type Outcome struct {
	Remote   string
	Size     uint32
	Checksum uint32
	Err      error
}

// Publisher serves a firmware image to exactly one requester.
type Publisher struct {
	path    string
	logger  *slog.Logger
	claimed atomic.Bool
	outcome chan Outcome
}

// NewPublisher creates a publisher for the image at the specified path. The
// file is read when the request arrives.
func NewPublisher(path string, logger *slog.Logger) *Publisher {
	// set default logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		path:    path,
		logger:  logger,
		outcome: make(chan Outcome, 1),
	}
}

// Done returns a channel that receives the outcome of the first request.
func (p *Publisher) Done() <-chan Outcome {
	return p.outcome
}

// ServeHTTP implements the http.Handler interface.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// answer probes without claiming
	if r.Method == http.MethodHead {
		p.head(w, r)
		return
	}

	// claim publisher
	if !p.claimed.CompareAndSwap(false, true) {
		p.logger.Warn("rejected request", "remote", r.RemoteAddr)
		http.Error(w, "image already served", http.StatusServiceUnavailable)
		return
	}

	p.logger.Info("serving request", "remote", r.RemoteAddr, "method", r.Method, "path", r.URL.Path)

	// read image
	image, err := ReadImage(p.path)
	if err != nil {
		p.logger.Error("failed to read image", "path", p.path, "error", err)
		http.Error(w, "failed to read image", http.StatusInternalServerError)
		p.outcome <- Outcome{Remote: r.RemoteAddr, Err: fmt.Errorf("read image: %w", err)}
		return
	}

	// write headers
	image.Advertise().Apply(w.Header())
	w.WriteHeader(http.StatusOK)

	// write body
	_, err = w.Write(image.Data)
	if err != nil {
		p.logger.Error("failed to write image", "remote", r.RemoteAddr, "error", err)
		err = fmt.Errorf("write image: %w", err)
	}

	// log success
	if err == nil {
		p.logger.Info("image served", "remote", r.RemoteAddr, "size", bytefmt.ByteSize(uint64(image.Size)), "checksum", image.Checksum)
	}

	p.outcome <- Outcome{
		Remote:   r.RemoteAddr,
		Size:     image.Size,
		Checksum: image.Checksum,
		Err:      err,
	}
}

func (p *Publisher) head(w http.ResponseWriter, r *http.Request) {
	// check claim
	if p.claimed.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	// read image
	image, err := ReadImage(p.path)
	if err != nil {
		p.logger.Error("failed to read image", "path", p.path, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	p.logger.Info("answered head request", "remote", r.RemoteAddr)

	// write headers
	image.Advertise().Apply(w.Header())
	w.WriteHeader(http.StatusOK)
}

// Serve serves the image on the provided listener until the first request has
// been handled or the context is done. The server is shut down gracefully
// before the outcome is returned.
func (p *Publisher) Serve(ctx context.Context, ln net.Listener) (Outcome, error) {
	// prepare server
	server := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server
	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(ln)
	}()

	p.logger.Info("publisher listening", "addr", ln.Addr().String(), "path", p.path)

	// await outcome
	var outcome Outcome
	var err error
	select {
	case outcome = <-p.outcome:
	case err = <-errs:
		return Outcome{}, err
	case <-ctx.Done():
		err = ctx.Err()
	}

	// shutdown server
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	serr := server.Shutdown(sctx)
	if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		p.logger.Warn("failed to shutdown server", "error", serr)
	}

	return outcome, err
}
