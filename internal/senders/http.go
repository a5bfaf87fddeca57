package senders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/transport"
)

// HTTPSender posts envelopes to a business application endpoint
type HTTPSender struct {
	url    string
	client *transport.HTTPSClient
}

// NewHTTPSender creates an HTTP sender. Parameters: url, and optionally
// timeout (seconds), caFile, certFile, keyFile.
func NewHTTPSender(params map[string]string) (Sender, error) {
	url := params["url"]
	if url == "" {
		return nil, errors.New("HTTP method requires a url parameter")
	}
	files := transport.TLSFiles{
		CAFile:   params["caFile"],
		CertFile: params["certFile"],
		KeyFile:  params["keyFile"],
	}
	if v := params["timeout"]; v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", v)
		}
		files.Timeout = time.Duration(secs) * time.Second
	}
	config, err := transport.LoadHTTPSConfig(files)
	if err != nil {
		return nil, err
	}
	return &HTTPSender{url: url, client: transport.NewHTTPSClient(config)}, nil
}

// Send implements Sender. Connection failures and 5xx answers are
// retryable, other failures are not.
func (s *HTTPSender) Send(ctx context.Context, env *msh.Envelope) Result {
	contentType := env.ContentType
	if contentType == "" {
		contentType = "application/xml"
	}
	_, err := s.client.Send(ctx, s.url, env.Body, contentType)
	if err == nil {
		return Succeeded()
	}
	if transport.IsRetryable(err) {
		return Retryable(err)
	}
	return Fatal(err)
}
