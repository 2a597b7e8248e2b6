package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remote     string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{name: "remote_addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "remote_without_port", remote: "192.0.2.1", want: "192.0.2.1"},
		{name: "xff_ignored_without_trust", remote: "192.0.2.1:1234", xff: "203.0.113.9", want: "192.0.2.1"},
		{name: "xff_first", remote: "192.0.2.1:1234", xff: " 203.0.113.9 , 10.0.0.1", trustProxy: true, want: "203.0.113.9"},
		{name: "x_real_ip", remote: "192.0.2.1:1234", xri: "198.51.100.7", trustProxy: true, want: "198.51.100.7"},
		{name: "ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}

			require.Equal(t, tt.want, ClientIP(r, tt.trustProxy))
		})
	}
}
