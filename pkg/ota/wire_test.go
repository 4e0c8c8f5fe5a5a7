package ota

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw.bin")
	err := os.WriteFile(path, []byte("123456789"), 0644)
	assert.NoError(t, err)

	image, err := ReadImage(path)
	assert.NoError(t, err)
	assert.Equal(t, uint32(9), image.Size)
	assert.Equal(t, uint32(0xCBF43926), image.Checksum)
	assert.Equal(t, []byte("123456789"), image.Data)

	_, err = ReadImage(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestAdvertisementApply(t *testing.T) {
	h := http.Header{}
	Advertisement{Size: 10000, Checksum: 3735928559, ContentType: ContentType}.Apply(h)
	assert.Equal(t, http.Header{
		"Content-Type":   {"application/octet-stream"},
		"Content-Length": {"10000"},
		"target_crc":     {"3735928559"},
	}, h)
}

func TestParseAdvertisement(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Advertisement{Size: 3, Checksum: 42, ContentType: ContentType}.Apply(w.Header())
		_, _ = w.Write([]byte("abc"))
	}))
	defer server.Close()

	res, err := http.Get(server.URL)
	assert.NoError(t, err)
	defer res.Body.Close()

	adv, err := ParseAdvertisement(res)
	assert.NoError(t, err)
	assert.Equal(t, Advertisement{
		Size:        3,
		Checksum:    42,
		ContentType: ContentType,
	}, adv)
}

func TestParseAdvertisementErrors(t *testing.T) {
	for _, item := range []struct {
		length int64
		header http.Header
		err    string
	}{
		{
			length: -1,
			header: http.Header{"target_crc": {"1"}},
			err:    "missing content length",
		},
		{
			length: 1 << 33,
			header: http.Header{"target_crc": {"1"}},
			err:    "content length out of range: 8589934592",
		},
		{
			length: 10,
			header: http.Header{},
			err:    "missing target_crc header",
		},
		{
			length: 10,
			header: http.Header{"Target_crc": {"0x10"}},
			err:    `invalid target_crc header "0x10"`,
		},
		{
			length: 10,
			header: http.Header{"Target_crc": {"4294967296"}},
			err:    `invalid target_crc header "4294967296"`,
		},
	} {
		_, err := ParseAdvertisement(&http.Response{
			ContentLength: item.length,
			Header:        item.header,
		})
		assert.Error(t, err)
		assert.Equal(t, item.err, err.Error())
	}
}

func TestParseChecksumCaseInsensitive(t *testing.T) {
	for _, key := range []string{"target_crc", "Target_crc", "TARGET_CRC"} {
		checksum, err := parseChecksum(http.Header{key: {" 123 "}})
		assert.NoError(t, err)
		assert.Equal(t, uint32(123), checksum)
	}
}
