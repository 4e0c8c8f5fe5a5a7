package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient(t *testing.T) {
	c, err := Dial("mqtt://localhost:1883/station", "test-client", 1, nil)
	if err != nil {
		t.Skip("broker not available:", err)
	}

	assert.Equal(t, "station", c.Base())

	err = c.Publish("station/temperature", []byte("21.50"))
	assert.NoError(t, err)

	err = c.Close()
	assert.NoError(t, err)
}

func TestDialInvalidQOS(t *testing.T) {
	_, err := Dial("mqtt://localhost:1883", "test-client", 3, nil)
	assert.Error(t, err)
}

func TestBasePath(t *testing.T) {
	assert.Equal(t, "weather/station1", basePath("mqtt://localhost:1883/weather/station1/"))
	assert.Equal(t, "", basePath("mqtt://localhost:1883"))
	assert.Equal(t, "", basePath("://"))
}
