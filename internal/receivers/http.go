package receivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/observability"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/transport"
)

// HTTPConfig configures the inbound AS4 endpoint
type HTTPConfig struct {
	Address string
	Path    string

	// MaxBodyBytes limits the size of a request body
	MaxBodyBytes int64

	// RequestsPerSecond and Burst throttle the endpoint. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// TLS serves HTTPS when CertFile is set
	TLS *transport.TLSFiles

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultHTTPConfig returns the endpoint defaults
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Address:         ":8080",
		Path:            "/msh",
		MaxBodyBytes:    100 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// HTTPReceiver accepts pushed AS4 messages. The agent's terminal context
// decides the answer: a reply signal is written with 200, an exception
// gives 500, a rejected message without reply gives 422, anything else 202.
type HTTPReceiver struct {
	cfg        *HTTPConfig
	serializer ebms.Serializer
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu     sync.Mutex
	srv    *http.Server
	addr   net.Addr
	ready  chan struct{}
	closed bool
}

// NewHTTPReceiver creates a receiver
func NewHTTPReceiver(cfg *HTTPConfig, logger *slog.Logger) *HTTPReceiver {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &HTTPReceiver{
		cfg:        cfg,
		serializer: ebms.MIMESerializer{},
		logger:     logger.With("receiver", "http", "path", cfg.Path),
		ready:      make(chan struct{}),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond) + 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return r
}

// Handler returns the HTTP handler for the endpoint
func (r *HTTPReceiver) Handler(handle msh.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+r.cfg.Path, func(w http.ResponseWriter, req *http.Request) {
		r.serve(w, req, handle)
	})
	mux.HandleFunc("GET "+r.cfg.Path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "go-msh is running")
	})
	return mux
}

// Start serves the endpoint until ctx is done or Stop is called
func (r *HTTPReceiver) Start(ctx context.Context, handle msh.Handler) error {
	ln, err := net.Listen("tcp", r.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.cfg.Address, err)
	}

	srv := &http.Server{
		Handler:      r.Handler(handle),
		ReadTimeout:  r.cfg.ReadTimeout,
		WriteTimeout: r.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	if r.cfg.TLS != nil && r.cfg.TLS.CertFile != "" {
		config, err := transport.LoadHTTPSConfig(*r.cfg.TLS)
		if err != nil {
			ln.Close()
			return err
		}
		srv.TLSConfig = config.ServerTLS()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ln.Close()
		return nil
	}
	r.srv, r.addr = srv, ln.Addr()
	close(r.ready)
	r.mu.Unlock()

	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-served:
		}
	}()

	r.logger.Info("receiver started", "addr", ln.Addr().String(), "tls", srv.TLSConfig != nil)
	if srv.TLSConfig != nil {
		err = srv.ServeTLS(ln, "", "")
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr blocks until the receiver listens and returns its address
func (r *HTTPReceiver) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-r.ready:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the server down, letting requests in flight finish
func (r *HTTPReceiver) Stop() {
	r.mu.Lock()
	srv := r.srv
	already := r.closed
	r.closed = true
	r.mu.Unlock()
	if srv == nil || already {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		r.logger.Warn("shutdown incomplete", "error", err)
	}
}

func (r *HTTPReceiver) serve(w http.ResponseWriter, req *http.Request, handle msh.Handler) {
	start := time.Now()
	status := http.StatusAccepted
	defer func() {
		observability.RecordHTTPRequest(r.cfg.Path, strconv.Itoa(status), time.Since(start))
	}()

	if r.limiter != nil && !r.limiter.Allow() {
		status = http.StatusTooManyRequests
		http.Error(w, "too many requests", status)
		return
	}

	body := req.Body
	if r.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes)
	}
	item := msh.NewReceivedMessage(body, req.Header.Get("Content-Type"), req.RemoteAddr)

	result := handle(req.Context(), item)
	defer func() {
		if err := result.Close(); err != nil {
			r.logger.Warn("failed to release resources", "error", err)
		}
	}()

	status = r.respond(w, result)
}

func (r *HTTPReceiver) respond(w http.ResponseWriter, result *msh.MessagingContext) int {
	if result == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	if err := result.Exception(); err != nil {
		http.Error(w, "message could not be processed", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	if reply := result.Response(); !reply.IsEmpty() {
		var buf bytes.Buffer
		contentType, err := r.serializer.Serialize(reply, &buf)
		if err != nil {
			r.logger.Error("failed to serialize reply", "error", err)
			http.Error(w, "reply could not be serialized", http.StatusInternalServerError)
			return http.StatusInternalServerError
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
		return http.StatusOK
	}

	if er := result.ErrorResult(); er != nil {
		http.Error(w, er.Error(), http.StatusUnprocessableEntity)
		return http.StatusUnprocessableEntity
	}

	w.WriteHeader(http.StatusAccepted)
	return http.StatusAccepted
}

var _ msh.Receiver = (*HTTPReceiver)(nil)
