package collector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// HTTPDoer is the part of *http.Client the fetchers need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the HTTP client shared by every provider call. It stamps a stable
// User-Agent and JSON Accept header on requests that do not set their own.
type Client struct {
	client    *http.Client
	userAgent string
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout   time.Duration
	useUTLS   bool
	userAgent string
	transport http.RoundTripper
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithUTLS dials TLS with a Chrome ClientHello fingerprint.
func WithUTLS(enabled bool) ClientOption {
	return func(o *clientOptions) { o.useUTLS = enabled }
}

// WithUserAgent overrides the default User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(o *clientOptions) { o.userAgent = ua }
}

// WithTransport replaces the transport entirely. Used by tests.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.transport = rt }
}

// NewClient builds a Client.
func NewClient(opts ...ClientOption) *Client {
	o := clientOptions{
		timeout:   30 * time.Second,
		userAgent: "sleepsync",
	}
	for _, opt := range opts {
		opt(&o)
	}

	transport := o.transport
	if transport == nil {
		transport = newTransport(o.useUTLS)
	}

	return &Client{
		client: &http.Client{
			Timeout:   o.timeout,
			Transport: transport,
		},
		userAgent: o.userAgent,
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return c.client.Do(req)
}

// HTTPClient exposes the underlying client for libraries that take one,
// such as golang.org/x/oauth2.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

func newTransport(useUTLS bool) http.RoundTripper {
	if !useUTLS {
		return &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host := addr
			if strings.Contains(addr, ":") {
				host, _, _ = net.SplitHostPort(addr)
			}
			uconn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloCustom)
			hello, err := chromeHTTP1Spec()
			if err == nil {
				err = uconn.ApplyPreset(hello)
			}
			if err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			if err := uconn.Handshake(); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			return uconn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// chromeHTTP1Spec is the Chrome 120 ClientHello with ALPN limited to
// http/1.1, since the transport cannot speak h2 over a custom dialer.
func chromeHTTP1Spec() (*utls.ClientHelloSpec, error) {
	hello, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		return nil, err
	}
	for _, ext := range hello.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &hello, nil
}
