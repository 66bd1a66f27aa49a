package utils

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns a client for calls to the identity source.
// connectTimeout bounds the dial, timeout bounds the whole exchange,
// and redirects are never followed.
func NewHTTPClient(timeout, connectTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
