package httpx

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/parley-chat/parley/llm/types"
)

func TestStreamingClientHasNoOverallTimeout(t *testing.T) {
	client, err := NewStreamingClient(ProxyConfig{})
	if err != nil {
		t.Fatalf("NewStreamingClient() error = %v", err)
	}
	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0 for streaming", client.Timeout)
	}
}

func TestRequestClientTimeout(t *testing.T) {
	client, err := NewRequestClient(ProxyConfig{}, 30*time.Second)
	if err != nil {
		t.Fatalf("NewRequestClient() error = %v", err)
	}
	if client.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}
}

func TestHTTPProxyConfigured(t *testing.T) {
	client, err := NewStreamingClient(ProxyConfig{URL: "http://proxy.local:8080"})
	if err != nil {
		t.Fatalf("NewStreamingClient() error = %v", err)
	}
	transport := client.Transport.(*http.Transport)
	if transport.Proxy == nil {
		t.Fatal("Proxy not set for http scheme")
	}
	proxyURL, err := transport.Proxy(&http.Request{})
	if err != nil {
		t.Fatalf("Proxy() error = %v", err)
	}
	if proxyURL.Host != "proxy.local:8080" {
		t.Errorf("proxy host = %q", proxyURL.Host)
	}
}

func TestSocks5ProxyConfigured(t *testing.T) {
	client, err := NewStreamingClient(ProxyConfig{URL: "socks5://127.0.0.1:1080"})
	if err != nil {
		t.Fatalf("NewStreamingClient() error = %v", err)
	}
	transport := client.Transport.(*http.Transport)
	// SOCKS5 replaces the dialer rather than setting Proxy.
	if transport.Proxy != nil {
		t.Error("Proxy should be unset for socks5")
	}
	if transport.DialContext == nil {
		t.Error("DialContext should be the socks5 dialer")
	}
}

func TestUnsupportedProxyScheme(t *testing.T) {
	_, err := NewStreamingClient(ProxyConfig{URL: "ftp://proxy.local"})
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
}

func TestInvalidProxyURL(t *testing.T) {
	_, err := NewRequestClient(ProxyConfig{URL: "://bad"}, time.Second)
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
}
