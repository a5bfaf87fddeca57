package senders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/observability"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// Status classifies the result of a send
type Status int

const (
	Success Status = iota
	// RetryableFail means the same envelope may be sent again later
	RetryableFail
	// FatalFail means resending will not help
	FatalFail
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case RetryableFail:
		return "retryable"
	default:
		return "fatal"
	}
}

// Result is the outcome of one send
type Result struct {
	Status Status
	Err    error
}

// Succeeded returns a success result
func Succeeded() Result { return Result{Status: Success} }

// Retryable returns a retryable failure
func Retryable(err error) Result { return Result{Status: RetryableFail, Err: err} }

// Fatal returns a non-retryable failure
func Fatal(err error) Result { return Result{Status: FatalFail, Err: err} }

// Sender hands an envelope to a business application
type Sender interface {
	Send(ctx context.Context, env *msh.Envelope) Result
}

// Factory creates a sender from method parameters
type Factory func(params map[string]string) (Sender, error)

// ErrUnknownMethod is returned for a method type without a factory
var ErrUnknownMethod = errors.New("unknown deliver or notify method")

// Method types
const (
	MethodFile  = "FILE"
	MethodHTTP  = "HTTP"
	MethodKafka = "KAFKA"
)

// Registry maps method types to factories and caches the senders it built.
// Senders holding connections are closed by Close.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	cache     map[string]Sender
}

// NewRegistry creates a registry with the FILE, HTTP and KAFKA methods
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		cache:     make(map[string]Sender),
	}
	r.Register(MethodFile, NewFileSender)
	r.Register(MethodHTTP, NewHTTPSender)
	r.Register(MethodKafka, NewKafkaSender)
	return r
}

// Register adds or replaces the factory for a method type
func (r *Registry) Register(methodType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToUpper(methodType)] = f
}

// Sender returns the sender for m, building it on first use
func (r *Registry) Sender(m *pmode.Method) (Sender, error) {
	if m == nil || m.Type == "" {
		return nil, fmt.Errorf("%w: no method configured", ErrUnknownMethod)
	}
	key := cacheKey(m)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache[key]; ok {
		return s, nil
	}
	f, ok := r.factories[strings.ToUpper(m.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, m.Type)
	}
	s, err := f(m.Parameters)
	if err != nil {
		return nil, fmt.Errorf("creating %s sender: %w", m.Type, err)
	}
	r.cache[key] = s
	return s, nil
}

// Send sends env with the sender for m and records the result
func (r *Registry) Send(ctx context.Context, m *pmode.Method, env *msh.Envelope) Result {
	s, err := r.Sender(m)
	if err != nil {
		observability.RecordSend("unknown", FatalFail.String())
		return Fatal(err)
	}
	res := s.Send(ctx, env)
	observability.RecordSend(strings.ToUpper(m.Type), res.Status.String())
	return res
}

// Close closes every cached sender that holds resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, s := range r.cache {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		delete(r.cache, key)
	}
	return errors.Join(errs...)
}

func cacheKey(m *pmode.Method) string {
	names := make([]string, 0, len(m.Parameters))
	for name := range m.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(strings.ToUpper(m.Type))
	for _, name := range names {
		b.WriteString("|" + name + "=" + m.Parameters[name])
	}
	return b.String()
}
