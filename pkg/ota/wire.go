// Package ota implements the firmware update pipeline: a single-shot update
// publisher and the device side update agent.
package ota

import (
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/256dpi/wxstation/pkg/crc"
)

// ContentType is the content type used to transfer firmware images.
const ContentType = "application/octet-stream"

// ChecksumHeader is the response header carrying the decimal CRC32 of the body.
const ChecksumHeader = "target_crc"

// Image is a firmware image read from disk.
type Image struct {
	Size     uint32
	Checksum uint32
	Data     []byte
}

// ReadImage reads the firmware image at the specified path and computes its
// checksum.
func ReadImage(path string) (*Image, error) {
	// read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// check size
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("image too large: %d bytes", len(data))
	}

	return &Image{
		Size:     uint32(len(data)),
		Checksum: crc.Sum(data),
		Data:     data,
	}, nil
}

// Advertisement describes an available image as announced by the response
// headers.
type Advertisement struct {
	Size        uint32
	Checksum    uint32
	ContentType string
}

// Advertise returns the advertisement for the image.
func (i *Image) Advertise() Advertisement {
	return Advertisement{
		Size:        i.Size,
		Checksum:    i.Checksum,
		ContentType: ContentType,
	}
}

// Apply writes the advertisement to the provided response headers.
func (a Advertisement) Apply(h http.Header) {
	h.Set("Content-Type", a.ContentType)
	h.Set("Content-Length", strconv.FormatUint(uint64(a.Size), 10))

	// keep the key as is, it is matched case-insensitively by agents
	h[ChecksumHeader] = []string{strconv.FormatUint(uint64(a.Checksum), 10)}
}

// ParseAdvertisement reads the advertisement from a response. A missing or
// unparsable checksum header is an error and never defaults to zero.
func ParseAdvertisement(res *http.Response) (Advertisement, error) {
	// check length
	if res.ContentLength < 0 {
		return Advertisement{}, fmt.Errorf("missing content length")
	} else if res.ContentLength > math.MaxUint32 {
		return Advertisement{}, fmt.Errorf("content length out of range: %d", res.ContentLength)
	}

	// parse checksum
	checksum, err := parseChecksum(res.Header)
	if err != nil {
		return Advertisement{}, err
	}

	return Advertisement{
		Size:        uint32(res.ContentLength),
		Checksum:    checksum,
		ContentType: res.Header.Get("Content-Type"),
	}, nil
}

func parseChecksum(h http.Header) (uint32, error) {
	// find header
	var values []string
	for key, list := range h {
		if strings.EqualFold(key, ChecksumHeader) {
			values = list
			break
		}
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("missing %s header", ChecksumHeader)
	}

	// parse value
	value := strings.TrimSpace(values[0])
	checksum, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q", ChecksumHeader, value)
	}

	return uint32(checksum), nil
}
