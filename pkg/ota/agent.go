package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
)

// DefaultChunkSize is the default size of the receive buffer.
const DefaultChunkSize = 4096

// DefaultTimeout is the default request timeout.
const DefaultTimeout = 5 * time.Second

// the number of consecutive empty reads tolerated from a body
const maxEmptyReads = 100

// AgentConfig configures an Agent.
type AgentConfig struct {
	// The update URL.
	URL string

	// The size of the receive buffer.
	ChunkSize int

	// The timeout for the request until the response headers are received.
	Timeout time.Duration

	// The maximum number of attempts per Run.
	MaxAttempts int

	// The maximum accepted image size, zero means unbounded.
	MaxSize uint32

	// The HTTP client, defaults to a new client.
	Client *http.Client

	// The logger, defaults to slog.Default.
	Logger *slog.Logger
}

// Agent fetches firmware images and streams them into the storage. It never
// switches the boot target unless the complete image has been received and
// verified by the storage.
type Agent struct {
	config   AgentConfig
	storage  Storage
	watchdog Watchdog
	resetter Resetter
	logger   *slog.Logger
	buffer   []byte
	mutex    sync.Mutex
}

// NewAgent creates and returns a new agent. The agent takes exclusive
// ownership of the storage.
func NewAgent(config AgentConfig, storage Storage, watchdog Watchdog, resetter Resetter) *Agent {
	// set defaults
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Agent{
		config:   config,
		storage:  storage,
		watchdog: watchdog,
		resetter: resetter,
		logger:   config.Logger,
		buffer:   make([]byte, config.ChunkSize),
	}
}

// Run performs up to the configured maximum number of update attempts. It
// stops early if an attempt succeeds, no update is available or the context
// is done.
func (a *Agent) Run(ctx context.Context) (*Session, error) {
	var session *Session
	var err error
	for attempt := 1; attempt <= a.config.MaxAttempts; attempt++ {
		// perform attempt
		session, err = a.Check(ctx)
		if err == nil || errors.Is(err, ErrNoUpdate) || errors.Is(err, ErrBusy) || ctx.Err() != nil {
			return session, err
		}

		// log failure
		a.logger.Warn("update attempt failed", "attempt", attempt, "max", a.config.MaxAttempts, "error", err)
	}

	return session, err
}

// Check performs a single update attempt. On success the resetter has been
// called and the returned session is in the Rebooting state. On failure the
// returned error is an *AbortError and the current image stays active.
func (a *Agent) Check(ctx context.Context) (*Session, error) {
	// acquire session
	if !a.mutex.TryLock() {
		return &Session{State: Aborted}, &AbortError{
			State: Idle,
			Kind:  ErrBusy,
			Err:   errors.New("another session is active"),
		}
	}
	defer a.mutex.Unlock()

	// run session
	session := &Session{State: Idle}
	err := a.update(ctx, session)
	if err != nil {
		a.logger.Error("update aborted", "state", session.State.String(), "error", err)
		session.State = Aborted
		return session, err
	}

	return session, nil
}

func (a *Agent) update(ctx context.Context, s *Session) error {
	// prepare abort
	abort := func(kind, err error) error {
		return &AbortError{State: s.State, Kind: kind, Err: err}
	}

	// check url
	if a.config.URL == "" {
		return abort(ErrTransport, errors.New("missing update url"))
	}

	// request image
	a.transition(s, Requesting, "url", a.config.URL)
	res, err := a.request(ctx)
	if err != nil {
		return abort(ErrTransport, err)
	}
	defer res.Body.Close()

	// check status
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return abort(ErrNoUpdate, fmt.Errorf("server responded with %q", res.Status))
	default:
		return abort(ErrProtocol, fmt.Errorf("unexpected status %q", res.Status))
	}

	// parse advertisement
	adv, err := ParseAdvertisement(res)
	if err != nil {
		return abort(ErrProtocol, err)
	}
	if adv.ContentType != ContentType {
		a.logger.Warn("unexpected content type", "content_type", adv.ContentType)
	}

	// check size
	if adv.Size == 0 {
		return abort(ErrNoUpdate, errors.New("empty image"))
	} else if a.config.MaxSize > 0 && adv.Size > a.config.MaxSize {
		return abort(ErrProtocol, fmt.Errorf("image of %d bytes exceeds maximum of %d bytes", adv.Size, a.config.MaxSize))
	}

	// initialize session
	s.ExpectedSize = adv.Size
	s.TargetChecksum = adv.Checksum
	a.transition(s, Receiving, "size", bytefmt.ByteSize(uint64(adv.Size)), "checksum", adv.Checksum)

	// begin write
	err = a.storage.Begin(s.ExpectedSize, s.TargetChecksum)
	if err != nil {
		return abort(ErrStorage, fmt.Errorf("begin: %w", err))
	}

	// receive chunks
	body := &feedingReader{reader: res.Body, watchdog: a.watchdog}
	complete := false
	for s.BytesWritten < s.ExpectedSize && !complete {
		// read chunk
		chunk := a.buffer[:min(uint32(len(a.buffer)), s.Remaining())]
		n, err := io.ReadFull(body, chunk)

		// forward received bytes
		if n > 0 {
			var werr error
			complete, werr = a.storage.WriteChunk(chunk[:n])
			if werr != nil {
				return abort(ErrStorage, fmt.Errorf("write chunk: %w", werr))
			}

			// advance
			s.BytesWritten += uint32(n)
			a.logger.Debug("chunk written", "size", n, "written", s.BytesWritten, "expected", s.ExpectedSize)
		}

		// handle read errors
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			a.logger.Error("premature end of stream", "received", s.BytesWritten, "expected", s.ExpectedSize)
			return abort(ErrTransport, fmt.Errorf("premature end of stream: received %d of %d bytes", s.BytesWritten, s.ExpectedSize))
		} else if err != nil {
			return abort(ErrTransport, err)
		}
	}

	// check completion
	if complete != (s.BytesWritten == s.ExpectedSize) {
		return abort(ErrStorage, fmt.Errorf("completion mismatch: storage complete=%t after %d of %d bytes", complete, s.BytesWritten, s.ExpectedSize))
	}

	// verify and apply
	a.transition(s, Verifying, "received", s.BytesWritten)
	err = a.storage.Flush(true, true)
	if errors.Is(err, ErrChecksumMismatch) {
		return abort(ErrIntegrity, err)
	} else if err != nil {
		return abort(ErrStorage, fmt.Errorf("flush: %w", err))
	}

	// commit
	a.transition(s, Committing)
	a.logger.Info("valid image received", "size", bytefmt.ByteSize(uint64(s.ExpectedSize)), "checksum", s.TargetChecksum)

	// reboot
	a.transition(s, Rebooting)
	a.resetter.Reset()

	return nil
}

func (a *Agent) request(ctx context.Context) (*http.Response, error) {
	// prepare context, the timer only bounds the request until headers are
	// received, the body is bounded by the parent context
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(a.config.Timeout, cancel)

	// prepare request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.URL, nil)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}

	// perform request
	res, err := a.config.Client.Do(req)
	if !timer.Stop() {
		if err == nil {
			_ = res.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("request timed out after %s", a.config.Timeout)
	} else if err != nil {
		cancel()
		return nil, err
	}

	// release context with body
	res.Body = &cancelBody{ReadCloser: res.Body, cancel: cancel}

	return res, nil
}

func (a *Agent) transition(s *Session, state State, args ...any) {
	a.logger.Info("update "+state.String(), append([]any{"from", s.State.String()}, args...)...)
	s.State = state
}

type feedingReader struct {
	reader   io.Reader
	watchdog Watchdog
	empty    int
}

func (r *feedingReader) Read(p []byte) (int, error) {
	// feed watchdog
	if r.watchdog != nil {
		r.watchdog.Feed()
	}

	// read
	n, err := r.reader.Read(p)

	// guard against readers that never make progress
	if n == 0 && err == nil && len(p) > 0 {
		r.empty++
		if r.empty >= maxEmptyReads {
			return 0, io.ErrNoProgress
		}
	} else {
		r.empty = 0
	}

	return n, err
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
