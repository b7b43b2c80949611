package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalOrPrivateHost(t *testing.T) {
	private := []string{
		"localhost", "127.0.0.1", "::1", "[::1]", "192.168.0.10", "10.1.2.3",
		"172.20.0.5", "169.254.1.1", "fd12:3456::1", "fe80::1", "influx.local",
		"nas.lan", "grafana.home.arpa", "influxdb",
	}
	for _, h := range private {
		assert.True(t, IsLocalOrPrivateHost(h), h)
	}

	public := []string{"8.8.8.8", "172.32.0.1", "2001:4860::8888", "influx.example.com"}
	for _, h := range public {
		assert.False(t, IsLocalOrPrivateHost(h), h)
	}
}
