// Package flash provides a file backed two slot firmware storage.
package flash

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/256dpi/wxstation/pkg/crc"
	"github.com/256dpi/wxstation/pkg/ota"
)

const bootFile = "boot.json"

// The storage errors.
var (
	ErrNoWrite    = errors.New("no write in progress")
	ErrOverflow   = errors.New("write exceeds image size")
	ErrIncomplete = errors.New("incomplete image")
	ErrTooLarge   = errors.New("image exceeds partition size")
)

// Boot is the boot record that selects the active slot.
type Boot struct {
	Slot     int       `json:"slot"`
	Size     uint32    `json:"size"`
	Checksum uint32    `json:"checksum"`
	Updated  time.Time `json:"updated"`
}

// Storage is a two slot storage that writes updates to the inactive slot and
// only switches the boot record after a complete and validated write.
type Storage struct {
	dir       string
	partition uint32

	mutex    sync.Mutex
	file     *os.File
	slot     int
	size     uint32
	checksum uint32
	written  uint32
	hash     hash.Hash32
}

// Open opens the storage in the specified directory. A partition size of zero
// means unbounded.
func Open(dir string, partitionSize uint32) (*Storage, error) {
	// ensure directory
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	// prepare storage
	s := &Storage{
		dir:       dir,
		partition: partitionSize,
	}

	// check boot record
	_, err = s.Boot()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Boot returns the current boot record. A missing record yields slot zero
// without an image.
func (s *Storage) Boot() (Boot, error) {
	// read record
	data, err := os.ReadFile(filepath.Join(s.dir, bootFile))
	if errors.Is(err, os.ErrNotExist) {
		return Boot{}, nil
	} else if err != nil {
		return Boot{}, err
	}

	// decode record
	var boot Boot
	err = json.Unmarshal(data, &boot)
	if err != nil {
		return Boot{}, fmt.Errorf("invalid boot record: %w", err)
	}

	return boot, nil
}

// Verify checks the active image against the checksum of the boot record.
func (s *Storage) Verify() error {
	// get boot record
	boot, err := s.Boot()
	if err != nil {
		return err
	} else if boot.Size == 0 {
		return nil
	}

	// open slot
	file, err := os.Open(s.slotPath(boot.Slot))
	if err != nil {
		return err
	}
	defer file.Close()

	// compute checksum
	sum, n, err := crc.SumReader(io.LimitReader(file, int64(boot.Size)))
	if err != nil {
		return err
	} else if n != int64(boot.Size) {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, n, boot.Size)
	} else if sum != boot.Checksum {
		return fmt.Errorf("%w: expected %d, got %d", ota.ErrChecksumMismatch, boot.Checksum, sum)
	}

	return nil
}

// Begin erases the inactive slot and prepares a write.
func (s *Storage) Begin(size, checksum uint32) error {
	// acquire mutex
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// check size
	if s.partition > 0 && size > s.partition {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, size, s.partition)
	}

	// discard pending write
	s.discard()

	// get boot record
	boot, err := s.Boot()
	if err != nil {
		return err
	}

	// erase inactive slot
	slot := 1 - boot.Slot
	file, err := os.OpenFile(s.slotPath(slot), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	// set state
	s.file = file
	s.slot = slot
	s.size = size
	s.checksum = checksum
	s.written = 0
	s.hash = crc.New()

	return nil
}

// WriteChunk appends data to the inactive slot and reports whether the image
// is complete.
func (s *Storage) WriteChunk(data []byte) (bool, error) {
	// acquire mutex
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// check state
	if s.file == nil {
		return false, ErrNoWrite
	}

	// check overflow
	if uint64(s.written)+uint64(len(data)) > uint64(s.size) {
		return false, fmt.Errorf("%w: %d + %d > %d", ErrOverflow, s.written, len(data), s.size)
	}

	// write data
	n, err := s.file.Write(data)
	s.written += uint32(n)
	_, _ = s.hash.Write(data[:n])
	if err != nil {
		return false, err
	}

	return s.written == s.size, nil
}

// Flush finishes the pending write. If validate is set the checksum of the
// written data must match the target checksum. If apply is set the written
// slot becomes the boot target.
func (s *Storage) Flush(validate, apply bool) error {
	// acquire mutex
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// check state
	if s.file == nil {
		return ErrNoWrite
	}

	// finish file
	file := s.file
	s.file = nil
	err := file.Sync()
	if err != nil {
		_ = file.Close()
		return err
	}
	err = file.Close()
	if err != nil {
		return err
	}

	// check completeness
	if s.written != s.size {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, s.written, s.size)
	}

	// validate checksum
	if validate && s.hash.Sum32() != s.checksum {
		return fmt.Errorf("%w: expected %d, got %d", ota.ErrChecksumMismatch, s.checksum, s.hash.Sum32())
	}

	// apply
	if apply {
		return s.writeBoot(Boot{
			Slot:     s.slot,
			Size:     s.size,
			Checksum: s.checksum,
			Updated:  time.Now().UTC(),
		})
	}

	return nil
}

// Abort discards a pending write.
func (s *Storage) Abort() {
	// acquire mutex
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.discard()
}

func (s *Storage) discard() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

func (s *Storage) writeBoot(boot Boot) error {
	// encode record
	data, err := json.MarshalIndent(boot, "", "  ")
	if err != nil {
		return err
	}

	// write temporary file
	tmp := filepath.Join(s.dir, bootFile+".tmp")
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = file.Write(data)
	if err == nil {
		err = file.Sync()
	}
	if err != nil {
		_ = file.Close()
		return err
	}
	err = file.Close()
	if err != nil {
		return err
	}

	// replace record
	err = os.Rename(tmp, filepath.Join(s.dir, bootFile))
	if err != nil {
		return err
	}

	// sync directory
	dir, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	defer dir.Close()

	return dir.Sync()
}

func (s *Storage) slotPath(slot int) string {
	return filepath.Join(s.dir, fmt.Sprintf("ota_%d.bin", slot))
}
