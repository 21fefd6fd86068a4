// Package httpx constructs the HTTP clients used by the chat core. Streaming
// calls need a client with no overall timeout (a stream stays open for the
// whole generation) but sane dial and TLS handshake bounds, and both client
// flavors honor an injected proxy configuration.
package httpx

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/parley-chat/parley/llm/types"
)

const (
	dialTimeout         = 30 * time.Second
	tlsHandshakeTimeout = 15 * time.Second
	headerTimeout       = 60 * time.Second
)

// ProxyConfig selects an outbound proxy. The zero value means direct.
type ProxyConfig struct {
	// URL is the proxy address. Schemes http, https, and socks5 are
	// supported.
	URL string
}

// NewStreamingClient builds a client suitable for long-lived streaming
// responses: connection setup is bounded, the response body is not.
func NewStreamingClient(cfg ProxyConfig) (*http.Client, error) {
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport}, nil
}

// NewRequestClient builds a client for plain request/response calls with an
// overall timeout.
func NewRequestClient(cfg ProxyConfig, timeout time.Duration) (*http.Client, error) {
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func newTransport(cfg ProxyConfig) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ForceAttemptHTTP2:     true,
	}

	if cfg.URL == "" {
		return transport, nil
	}

	proxyURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid proxy URL %q", cfg.URL), err)
	}

	switch proxyURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5":
		socksDialer, err := proxy.FromURL(proxyURL, dialer)
		if err != nil {
			return nil, types.NewConfigurationError("building socks5 dialer", err)
		}
		contextDialer, ok := socksDialer.(proxy.ContextDialer)
		if !ok {
			return nil, types.NewConfigurationError("socks5 dialer does not support context dialing", nil)
		}
		transport.DialContext = contextDialer.DialContext
	default:
		return nil, types.NewConfigurationError(fmt.Sprintf("unsupported proxy scheme %q", proxyURL.Scheme), nil)
	}

	return transport, nil
}
