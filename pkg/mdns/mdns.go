// Package mdns advertises and discovers update publishers.
package mdns

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/ryanuber/go-glob"
)

// Service is the service type of update publishers.
const Service = "_wxota._tcp"

// Location represents a discovered publisher.
type Location struct {
	Instance string
	Hostname string
	Address  string
	Port     int
	Text     map[string]string
}

// URL returns the update URL of the location.
func (l Location) URL() string {
	// get path
	path := l.Text["path"]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return fmt.Sprintf("http://%s:%d%s", l.Address, l.Port, path)
}

// Advertise registers the service instance on all interfaces. The returned
// function removes the registration.
func Advertise(instance string, port int, text map[string]string) (func(), error) {
	// prepare records
	var records []string
	for key, value := range text {
		records = append(records, key+"="+value)
	}

	// register service
	server, err := zeroconf.Register(instance, Service, "local.", port, records, nil)
	if err != nil {
		return nil, err
	}

	return server.Shutdown, nil
}

// Discover searches for publishers whose instance name matches the glob
// pattern. An empty pattern matches all instances.
func Discover(duration time.Duration, pattern string) ([]Location, error) {
	// create resolver
	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return nil, err
	}

	// prepare context
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	// prepare channels
	done := make(chan struct{})
	entries := make(chan *zeroconf.ServiceEntry, 8)

	// collect locations
	var locations []Location
	go func() {
		for entry := range entries {
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			if pattern != "" && !glob.Glob(pattern, entry.Instance) {
				continue
			}
			locations = append(locations, Location{
				Instance: entry.Instance,
				Hostname: entry.HostName,
				Address:  entry.AddrIPv4[0].String(),
				Port:     entry.Port,
				Text:     parseText(entry.Text),
			})
		}
		close(done)
	}()

	// perform lookup
	err = resolver.Browse(ctx, Service, "local.", entries)
	if err != nil {
		return nil, err
	}

	// wait for done
	<-done

	return locations, nil
}

// Text returns the TXT records advertised by an update publisher.
func Text(size, checksum uint32) map[string]string {
	return map[string]string{
		"path": "/",
		"size": strconv.FormatUint(uint64(size), 10),
		"crc":  strconv.FormatUint(uint64(checksum), 10),
	}
}

func parseText(records []string) map[string]string {
	text := map[string]string{}
	for _, record := range records {
		key, value, _ := strings.Cut(record, "=")
		text[key] = value
	}
	return text
}
