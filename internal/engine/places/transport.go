package places

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
)

// TransportOptions configures the HTTP client shared by the providers.
type TransportOptions struct {
	Timeout   time.Duration
	ProxyURL  string
	ChromeTLS bool // present a Chrome TLS fingerprint instead of Go's
}

// NewHTTPClient builds the client every provider call goes through. Every
// request carries opts.Timeout so no call blocks indefinitely.
func NewHTTPClient(opts TransportOptions) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	if opts.ChromeTLS {
		transport.DialTLSContext = chromeDialer(dialer, nil)
	}

	if opts.ProxyURL != "" {
		proxyParsed, err := url.Parse(opts.ProxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(proxyParsed)
			// When using proxy, fall back to standard TLS (proxy handles connection)
			transport.DialTLSContext = nil
			transport.TLSClientConfig = &tls.Config{}
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
}

// chromeHelloSpec is Chrome's ClientHello with ALPN pinned to HTTP/1.1,
// since http.Transport cannot run h2 over a utls connection.
func chromeHelloSpec() (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return spec, fmt.Errorf("chrome hello spec: %w", err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return spec, nil
}

// chromeDialer connects and handshakes with Chrome's TLS fingerprint. base
// may carry root CAs; the server name always comes from addr.
func chromeDialer(dialer *net.Dialer, base *utls.Config) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		spec, err := chromeHelloSpec()
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		cfg := &utls.Config{}
		if base != nil {
			cfg = base.Clone()
		}
		cfg.ServerName = host

		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		uconn := utls.UClient(conn, cfg, utls.HelloCustom)
		if err := uconn.ApplyPreset(&spec); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying chrome preset: %w", err)
		}
		if err := uconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
		}
		return uconn, nil
	}
}
