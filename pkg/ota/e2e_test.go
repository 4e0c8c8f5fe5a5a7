package ota_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/256dpi/wxstation/pkg/crc"
	"github.com/256dpi/wxstation/pkg/flash"
	"github.com/256dpi/wxstation/pkg/ota"
)

// forge sets the last four bytes of data so that its checksum equals target.
func forge(data []byte, target uint32) {
	// zero trailer
	n := len(data) - 4
	for i := n; i < len(data); i++ {
		data[i] = 0
	}

	// compute base and bit columns
	base := crc.Sum(data)
	var cols [32]uint32
	for i := 0; i < 32; i++ {
		data[n+i/8] ^= 1 << (i % 8)
		cols[i] = crc.Sum(data) ^ base
		data[n+i/8] ^= 1 << (i % 8)
	}

	// build basis
	var basis [32]uint32
	var masks [32]uint32
	for i := 0; i < 32; i++ {
		v, m := cols[i], uint32(1)<<i
		for b := 31; b >= 0; b-- {
			if v>>b&1 == 0 {
				continue
			}
			if basis[b] == 0 {
				basis[b], masks[b] = v, m
				break
			}
			v ^= basis[b]
			m ^= masks[b]
		}
	}

	// solve
	r, mask := target^base, uint32(0)
	for b := 31; b >= 0; b-- {
		if r>>b&1 == 1 {
			r ^= basis[b]
			mask ^= masks[b]
		}
	}

	// apply
	for i := 0; i < 32; i++ {
		if mask>>i&1 == 1 {
			data[n+i/8] ^= 1 << (i % 8)
		}
	}
}

// corruptWriter flips a single bit at the specified body offset.
type corruptWriter struct {
	http.ResponseWriter
	offset  int
	written int
}

func (w *corruptWriter) Write(p []byte) (int, error) {
	if w.offset >= w.written && w.offset < w.written+len(p) {
		p = bytes.Clone(p)
		p[w.offset-w.written] ^= 0x10
	}
	w.written += len(p)
	return w.ResponseWriter.Write(p)
}

// recorder records the size of every chunk written to the storage.
type recorder struct {
	*flash.Storage
	chunks []int
}

func (r *recorder) WriteChunk(data []byte) (bool, error) {
	r.chunks = append(r.chunks, len(data))
	return r.Storage.WriteChunk(data)
}

type station struct {
	dir     string
	storage *flash.Storage
	chunks  *recorder
	agent   *ota.Agent
	resets  int
	feeds   int
}

func newStation(t *testing.T, url string) *station {
	dir := t.TempDir()
	storage, err := flash.Open(dir, 0)
	assert.NoError(t, err)

	s := &station{dir: dir, storage: storage}
	s.chunks = &recorder{Storage: storage}
	s.agent = ota.NewAgent(ota.AgentConfig{
		URL:       url,
		ChunkSize: 1024,
		Timeout:   time.Second,
	}, s.chunks, ota.WatchdogFunc(func() {
		s.feeds++
	}), ota.ResetFunc(func() {
		s.resets++
	}))

	return s
}

func testImage(t *testing.T) ([]byte, string) {
	data := make([]byte, 10000)
	rand.New(rand.NewSource(1)).Read(data)
	forge(data, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), crc.Sum(data))

	path := filepath.Join(t.TempDir(), "firmware.bin")
	err := os.WriteFile(path, data, 0644)
	assert.NoError(t, err)

	return data, path
}

func TestUpdateSuccess(t *testing.T) {
	data, path := testImage(t)

	publisher := ota.NewPublisher(path, nil)
	server := httptest.NewServer(publisher)
	defer server.Close()

	s := newStation(t, server.URL)

	session, err := s.agent.Check(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, ota.Rebooting, session.State)
	assert.Equal(t, uint32(10000), session.BytesWritten)
	assert.Equal(t, uint32(0xDEADBEEF), session.TargetChecksum)
	assert.Equal(t, 1, s.resets)
	assert.GreaterOrEqual(t, s.feeds, 10)

	boot, err := s.storage.Boot()
	assert.NoError(t, err)
	assert.Equal(t, 1, boot.Slot)
	assert.Equal(t, uint32(10000), boot.Size)
	assert.Equal(t, uint32(0xDEADBEEF), boot.Checksum)

	image, err := os.ReadFile(filepath.Join(s.dir, "ota_1.bin"))
	assert.NoError(t, err)
	assert.Equal(t, data, image)
	assert.NoError(t, s.storage.Verify())

	// nine full chunks and the remainder
	assert.Equal(t, []int{1024, 1024, 1024, 1024, 1024, 1024, 1024, 1024, 1024, 784}, s.chunks.chunks)

	outcome := <-publisher.Done()
	assert.NoError(t, outcome.Err)
	assert.Equal(t, uint32(0xDEADBEEF), outcome.Checksum)

	// publisher is single shot
	res, err := http.Get(server.URL)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	_ = res.Body.Close()
}

func TestUpdateCorruptedInTransit(t *testing.T) {
	_, path := testImage(t)

	publisher := ota.NewPublisher(path, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		publisher.ServeHTTP(&corruptWriter{ResponseWriter: w, offset: 6*1024 + 100}, r)
	}))
	defer server.Close()

	s := newStation(t, server.URL)

	session, err := s.agent.Check(context.Background())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ota.ErrIntegrity))
	assert.Equal(t, ota.Aborted, session.State)
	assert.Equal(t, uint32(10000), session.BytesWritten)
	assert.Equal(t, 0, s.resets)

	boot, err := s.storage.Boot()
	assert.NoError(t, err)
	assert.Equal(t, flash.Boot{}, boot)
}

func TestUpdateTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", ota.ContentType)
		w.Header().Set("Content-Length", "5000")
		w.Header()[ota.ChecksumHeader] = []string{strconv.FormatUint(0xDEADBEEF, 10)}
		_, _ = w.Write(make([]byte, 3000))
	}))
	defer server.Close()

	s := newStation(t, server.URL)

	session, err := s.agent.Check(context.Background())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ota.ErrTransport))
	assert.Contains(t, err.Error(), "received 3000 of 5000 bytes")
	assert.Equal(t, uint32(3000), session.BytesWritten)
	assert.Equal(t, []int{1024, 1024, 952}, s.chunks.chunks)
	assert.Equal(t, 0, s.resets)

	boot, err := s.storage.Boot()
	assert.NoError(t, err)
	assert.Equal(t, flash.Boot{}, boot)
}
