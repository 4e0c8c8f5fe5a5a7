// Package mqtt publishes station readings to an MQTT broker.
package mqtt

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/packet"
)

const timeout = 5 * time.Second

// Client is a publish only MQTT client.
type Client struct {
	client *client.Client
	qos    packet.QOS
	base   string
	mutex  sync.Mutex
}

// Dial connects to the given MQTT broker URL using the provided client ID and
// QOS level. The path part of the URL is returned by Base.
func Dial(uri, cid string, qos int, logger *slog.Logger) (*Client, error) {
	// check QOS
	pktQOS := packet.QOS(qos)
	if !pktQOS.Successful() {
		return nil, fmt.Errorf("invalid QOS %d", qos)
	}

	// set default logger
	if logger == nil {
		logger = slog.Default()
	}

	// create client
	c := client.New()

	// log asynchronous errors
	c.Callback = func(msg *packet.Message, err error) error {
		if err != nil {
			logger.Warn("mqtt client error", "error", err)
		}
		return nil
	}

	// connect to the broker using the provided url
	cf, err := c.Connect(client.NewConfigWithClientID(uri, cid))
	if err != nil {
		return nil, err
	}
	err = cf.Wait(timeout)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	return &Client{
		client: c,
		qos:    pktQOS,
		base:   basePath(uri),
	}, nil
}

// Base returns the base topic derived from the broker URL.
func (c *Client) Base() string {
	return c.base
}

// Publish publishes the payload and waits for the acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	// acquire mutex
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// send message
	future, err := c.client.Publish(topic, payload, c.qos, false)
	if err != nil {
		return err
	}

	// await future
	err = future.Wait(timeout)
	if err != nil {
		return err
	}

	return nil
}

// Close disconnects the client.
func (c *Client) Close() error {
	// acquire mutex
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.client.Disconnect()
}

func basePath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}
