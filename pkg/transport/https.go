package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// UserAgent is sent with every request
const UserAgent = "go-msh/1.0"

// Recommended TLS 1.2 cipher suites for AS4
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPSConfig contains HTTPS client/server configuration
type HTTPSConfig struct {
	MinTLSVersion      uint16
	MaxTLSVersion      uint16
	CipherSuites       []uint16
	ClientAuth         tls.ClientAuthType
	Certificates       []tls.Certificate
	RootCAs            *x509.CertPool
	ClientCAs          *x509.CertPool
	InsecureSkipVerify bool
	Timeout            time.Duration
	IdleConnTimeout    time.Duration
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
	}
}

// TLSFiles names PEM files to build a configuration from
type TLSFiles struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// LoadHTTPSConfig builds a configuration from PEM files. Empty names keep
// the defaults.
func LoadHTTPSConfig(files TLSFiles) (*HTTPSConfig, error) {
	config := DefaultHTTPSConfig()
	config.InsecureSkipVerify = files.InsecureSkipVerify
	if files.Timeout > 0 {
		config.Timeout = files.Timeout
	}

	if files.CAFile != "" {
		pem, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", files.CAFile)
		}
		config.RootCAs = pool
		config.ClientCAs = pool
	}

	if files.CertFile != "" || files.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading key pair: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

// ClientTLS returns the TLS configuration for outgoing connections
func (c *HTTPSConfig) ClientTLS() *tls.Config {
	return &tls.Config{
		MinVersion:         c.MinTLSVersion,
		MaxVersion:         c.MaxTLSVersion,
		CipherSuites:       c.CipherSuites,
		Certificates:       c.Certificates,
		RootCAs:            c.RootCAs,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in per P-Mode for test endpoints
	}
}

// ServerTLS returns the TLS configuration for the inbound endpoint
func (c *HTTPSConfig) ServerTLS() *tls.Config {
	return &tls.Config{
		MinVersion:   c.MinTLSVersion,
		MaxVersion:   c.MaxTLSVersion,
		CipherSuites: c.CipherSuites,
		Certificates: c.Certificates,
		ClientAuth:   c.ClientAuth,
		ClientCAs:    c.ClientCAs,
	}
}

// Response is the answer of the remote endpoint
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// StatusError is returned for non-2xx answers
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsRetryable reports whether err is a transport failure or a retryable
// status
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// HTTPSClient posts messages to remote endpoints
type HTTPSClient struct {
	client *http.Client
	config *HTTPSConfig
}

// NewHTTPSClient creates a new HTTPS client
func NewHTTPSClient(config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	transport := &http.Transport{
		TLSClientConfig:     config.ClientTLS(),
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &HTTPSClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
	}
}

// Send posts message to endpoint. Any 2xx answer is a success; other
// answers return a *StatusError.
func (c *HTTPSClient) Send(ctx context.Context, endpoint string, message []byte, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Fetch downloads the resource at location with GET
func (c *HTTPSClient) Fetch(ctx context.Context, location string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Pool keeps one client per TLS setting so connections are reused across
// messages sent with the same P-Mode.
type Pool struct {
	mu      sync.Mutex
	clients map[TLSFiles]*HTTPSClient
}

// NewPool creates an empty pool
func NewPool() *Pool {
	return &Pool{clients: make(map[TLSFiles]*HTTPSClient)}
}

// Client returns the client for files, creating it on first use
func (p *Pool) Client(files TLSFiles) (*HTTPSClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[files]; ok {
		return c, nil
	}
	config, err := LoadHTTPSConfig(files)
	if err != nil {
		return nil, err
	}
	c := NewHTTPSClient(config)
	p.clients[files] = c
	return c, nil
}
