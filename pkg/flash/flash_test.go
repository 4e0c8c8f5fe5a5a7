package flash

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/256dpi/wxstation/pkg/crc"
	"github.com/256dpi/wxstation/pkg/ota"
)

func TestStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	assert.NoError(t, err)

	boot, err := s.Boot()
	assert.NoError(t, err)
	assert.Equal(t, Boot{}, boot)

	data := []byte("hello world!")

	err = s.Begin(12, crc.Sum(data))
	assert.NoError(t, err)

	done, err := s.WriteChunk(data[:5])
	assert.NoError(t, err)
	assert.False(t, done)

	done, err = s.WriteChunk(data[5:])
	assert.NoError(t, err)
	assert.True(t, done)

	err = s.Flush(true, true)
	assert.NoError(t, err)

	boot, err = s.Boot()
	assert.NoError(t, err)
	assert.Equal(t, 1, boot.Slot)
	assert.Equal(t, uint32(12), boot.Size)
	assert.Equal(t, crc.Sum(data), boot.Checksum)
	assert.False(t, boot.Updated.IsZero())

	image, err := os.ReadFile(filepath.Join(dir, "ota_1.bin"))
	assert.NoError(t, err)
	assert.Equal(t, data, image)
	assert.NoError(t, s.Verify())

	// next update goes to the other slot
	err = s.Begin(3, crc.Sum([]byte("abc")))
	assert.NoError(t, err)
	_, err = s.WriteChunk([]byte("abc"))
	assert.NoError(t, err)
	err = s.Flush(true, true)
	assert.NoError(t, err)

	boot, err = s.Boot()
	assert.NoError(t, err)
	assert.Equal(t, 0, boot.Slot)

	image, err = os.ReadFile(filepath.Join(dir, "ota_0.bin"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("abc"), image)
	assert.NoError(t, s.Verify())
}

func TestStorageChecksumMismatch(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	assert.NoError(t, err)

	err = s.Begin(3, 1234)
	assert.NoError(t, err)
	_, err = s.WriteChunk([]byte("abc"))
	assert.NoError(t, err)

	err = s.Flush(true, true)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ota.ErrChecksumMismatch))

	boot, err := s.Boot()
	assert.NoError(t, err)
	assert.Equal(t, Boot{}, boot)
}

func TestStorageIncomplete(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	assert.NoError(t, err)

	err = s.Begin(10, 0)
	assert.NoError(t, err)
	_, err = s.WriteChunk([]byte("abc"))
	assert.NoError(t, err)

	err = s.Flush(false, true)
	assert.True(t, errors.Is(err, ErrIncomplete))

	boot, err := s.Boot()
	assert.NoError(t, err)
	assert.Equal(t, Boot{}, boot)

	err = s.Flush(false, true)
	assert.True(t, errors.Is(err, ErrNoWrite))
}

func TestStorageOverflow(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	assert.NoError(t, err)

	err = s.Begin(2, 0)
	assert.NoError(t, err)

	_, err = s.WriteChunk([]byte("abc"))
	assert.True(t, errors.Is(err, ErrOverflow))
}

func TestStoragePartitionSize(t *testing.T) {
	s, err := Open(t.TempDir(), 4)
	assert.NoError(t, err)

	err = s.Begin(5, 0)
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, err = s.WriteChunk([]byte("a"))
	assert.True(t, errors.Is(err, ErrNoWrite))
}

func TestStorageWithoutApply(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	assert.NoError(t, err)

	err = s.Begin(3, crc.Sum([]byte("abc")))
	assert.NoError(t, err)
	_, err = s.WriteChunk([]byte("abc"))
	assert.NoError(t, err)

	err = s.Flush(true, false)
	assert.NoError(t, err)

	boot, err := s.Boot()
	assert.NoError(t, err)
	assert.Equal(t, Boot{}, boot)
}

func TestStorageAbort(t *testing.T) {
	s, err := Open(t.TempDir(), 0)
	assert.NoError(t, err)

	err = s.Begin(3, 0)
	assert.NoError(t, err)

	s.Abort()

	_, err = s.WriteChunk([]byte("abc"))
	assert.True(t, errors.Is(err, ErrNoWrite))
}

func TestStorageVerify(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	assert.NoError(t, err)
	assert.NoError(t, s.Verify())

	err = s.Begin(3, crc.Sum([]byte("abc")))
	assert.NoError(t, err)
	_, err = s.WriteChunk([]byte("abc"))
	assert.NoError(t, err)
	err = s.Flush(true, true)
	assert.NoError(t, err)
	assert.NoError(t, s.Verify())

	// corrupt slot
	err = os.WriteFile(filepath.Join(dir, "ota_1.bin"), []byte("abd"), 0644)
	assert.NoError(t, err)
	assert.True(t, errors.Is(s.Verify(), ota.ErrChecksumMismatch))

	// truncate slot
	err = os.WriteFile(filepath.Join(dir, "ota_1.bin"), []byte("ab"), 0644)
	assert.NoError(t, err)
	assert.True(t, errors.Is(s.Verify(), ErrIncomplete))
}

func TestStorageBootRecord(t *testing.T) {
	dir := t.TempDir()

	// leftover from an interrupted write
	err := os.WriteFile(filepath.Join(dir, "boot.json.tmp"), []byte("{"), 0644)
	assert.NoError(t, err)

	s, err := Open(dir, 0)
	assert.NoError(t, err)

	err = s.Begin(3, crc.Sum([]byte("abc")))
	assert.NoError(t, err)
	_, err = s.WriteChunk([]byte("abc"))
	assert.NoError(t, err)
	err = s.Flush(true, true)
	assert.NoError(t, err)

	ok, err := exists(filepath.Join(dir, "boot.json.tmp"))
	assert.NoError(t, err)
	assert.False(t, ok)

	// record survives reopening
	s, err = Open(dir, 0)
	assert.NoError(t, err)
	boot, err := s.Boot()
	assert.NoError(t, err)
	assert.Equal(t, 1, boot.Slot)
	assert.Equal(t, uint32(3), boot.Size)
	assert.Equal(t, crc.Sum([]byte("abc")), boot.Checksum)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
