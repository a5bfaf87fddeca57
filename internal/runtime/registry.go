package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/exceptions"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/receivers"
	"github.com/sirosfoundation/go-msh/internal/senders"
	"github.com/sirosfoundation/go-msh/internal/steps"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/internal/transformers"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
	"github.com/sirosfoundation/go-msh/pkg/transport"
)

// ErrUnknownKey is returned for a configuration key without a factory
var ErrUnknownKey = errors.New("unknown component")

// Env holds the collaborators components are built with
type Env struct {
	Repo    storage.Repository
	Bodies  bodystore.Store
	PModes  pmode.Source
	Senders *senders.Registry

	Steps        *steps.Deps
	Transformers *transformers.Dependencies
	Exceptions   *exceptions.Deps

	Logger *slog.Logger
}

// Factories build components from an Env
type (
	ReceiverFactory         func(env *Env, agent string, settings Settings) (msh.Receiver, error)
	TransformerFactory      func(env *Env) msh.Transformer
	StepFactory             func(env *Env) msh.Step
	ExceptionHandlerFactory func(env *Env) msh.ExceptionHandler
)

// Registry maps configuration keys to component factories. Keys are
// matched case-insensitively.
type Registry struct {
	receivers    map[string]ReceiverFactory
	transformers map[string]TransformerFactory
	steps        map[string]StepFactory
	handlers     map[string]ExceptionHandlerFactory
}

// NewRegistry creates a registry holding the built-in components
func NewRegistry() *Registry {
	r := &Registry{
		receivers:    make(map[string]ReceiverFactory),
		transformers: make(map[string]TransformerFactory),
		steps:        make(map[string]StepFactory),
		handlers:     make(map[string]ExceptionHandlerFactory),
	}

	r.RegisterReceiver(ReceiverHTTP, newHTTPReceiver)
	r.RegisterReceiver(ReceiverDatastore, newDatastoreReceiver)
	r.RegisterReceiver(ReceiverDirectory, newDirectoryReceiver)

	r.RegisterTransformer("ReceiveMessage", func(*Env) msh.Transformer { return transformers.ReceiveMessageTransformer{} })
	r.RegisterTransformer("SubmitMessage", func(*Env) msh.Transformer { return transformers.SubmitMessageTransformer{} })
	r.RegisterTransformer("OutMessage", func(e *Env) msh.Transformer { return &transformers.OutMessageTransformer{Deps: e.Transformers} })
	r.RegisterTransformer("DeliverMessage", func(e *Env) msh.Transformer { return &transformers.DeliverMessageTransformer{Deps: e.Transformers} })
	r.RegisterTransformer("NotifyMessage", func(e *Env) msh.Transformer { return &transformers.NotifyMessageTransformer{Deps: e.Transformers} })
	r.RegisterTransformer("ForwardMessage", func(e *Env) msh.Transformer { return &transformers.ForwardMessageTransformer{Deps: e.Transformers} })
	r.RegisterTransformer("ReceptionAwareness", func(*Env) msh.Transformer { return transformers.ReceptionAwarenessTransformer{} })
	r.RegisterTransformer("RetryReliability", func(*Env) msh.Transformer { return transformers.RetryReliabilityTransformer{} })

	for key, f := range map[string]StepFactory{
		"RetrieveSendingPMode":     func(e *Env) msh.Step { return &steps.RetrieveSendingPModeStep{Deps: e.Steps} },
		"CreateAS4Message":         func(e *Env) msh.Step { return &steps.CreateAS4MessageStep{Deps: e.Steps} },
		"StoreAS4Message":          func(e *Env) msh.Step { return &steps.StoreAS4MessageStep{Deps: e.Steps} },
		"DynamicDiscovery":         func(e *Env) msh.Step { return &steps.DynamicDiscoveryStep{Deps: e.Steps} },
		"CompressAttachments":      func(e *Env) msh.Step { return &steps.CompressAttachmentsStep{Deps: e.Steps} },
		"SetMessageToBeSent":       func(e *Env) msh.Step { return &steps.SetMessageToBeSentStep{Deps: e.Steps} },
		"SendAS4Message":           func(e *Env) msh.Step { return &steps.SendAS4MessageStep{Deps: e.Steps} },
		"DeserializeMessage":       func(e *Env) msh.Step { return &steps.DeserializeMessageStep{Deps: e.Steps} },
		"DeterminePModes":          func(e *Env) msh.Step { return &steps.DeterminePModesStep{Deps: e.Steps} },
		"DecompressAttachments":    func(e *Env) msh.Step { return &steps.DecompressAttachmentsStep{Deps: e.Steps} },
		"StoreReceivedMessage":     func(e *Env) msh.Step { return &steps.StoreReceivedMessageStep{Deps: e.Steps} },
		"CreateReceipt":            func(e *Env) msh.Step { return &steps.CreateReceiptStep{Deps: e.Steps} },
		"CreateError":              func(e *Env) msh.Step { return &steps.CreateErrorStep{Deps: e.Steps} },
		"SendDeliverMessage":       func(e *Env) msh.Step { return &steps.SendDeliverMessageStep{Deps: e.Steps} },
		"CreateForwardMessage":     func(e *Env) msh.Step { return &steps.CreateForwardMessageStep{Deps: e.Steps} },
		"SendNotifyMessage":        func(e *Env) msh.Step { return &steps.SendNotifyMessageStep{Deps: e.Steps} },
		"ReceptionAwarenessUpdate": func(e *Env) msh.Step { return &steps.ReceptionAwarenessUpdateStep{Deps: e.Steps} },
		"Retry":                    func(e *Env) msh.Step { return &steps.RetryStep{Deps: e.Steps} },
	} {
		r.RegisterStep(key, f)
	}

	r.RegisterExceptionHandler(HandlerInbound, func(e *Env) msh.ExceptionHandler { return &exceptions.InboundExceptionHandler{Deps: e.Exceptions} })
	r.RegisterExceptionHandler(HandlerOutbound, func(e *Env) msh.ExceptionHandler { return &exceptions.OutboundExceptionHandler{Deps: e.Exceptions} })
	r.RegisterExceptionHandler(HandlerNotify, func(e *Env) msh.ExceptionHandler { return &exceptions.NotifyExceptionHandler{Deps: e.Exceptions} })
	return r
}

func normalize(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

// RegisterReceiver adds or replaces a receiver factory
func (r *Registry) RegisterReceiver(key string, f ReceiverFactory) { r.receivers[normalize(key)] = f }

// RegisterTransformer adds or replaces a transformer factory
func (r *Registry) RegisterTransformer(key string, f TransformerFactory) {
	r.transformers[normalize(key)] = f
}

// RegisterStep adds or replaces a step factory
func (r *Registry) RegisterStep(key string, f StepFactory) { r.steps[normalize(key)] = f }

// RegisterExceptionHandler adds or replaces an exception handler factory
func (r *Registry) RegisterExceptionHandler(key string, f ExceptionHandlerFactory) {
	r.handlers[normalize(key)] = f
}

// Receiver returns the receiver factory for key
func (r *Registry) Receiver(key string) (ReceiverFactory, error) {
	return lookup(r.receivers, "receiver", key)
}

// Transformer returns the transformer factory for key
func (r *Registry) Transformer(key string) (TransformerFactory, error) {
	return lookup(r.transformers, "transformer", key)
}

// Step returns the step factory for key
func (r *Registry) Step(key string) (StepFactory, error) {
	return lookup(r.steps, "step", key)
}

// ExceptionHandler returns the exception handler factory for key
func (r *Registry) ExceptionHandler(key string) (ExceptionHandlerFactory, error) {
	return lookup(r.handlers, "exception handler", key)
}

// Steps lists the registered step keys
func (r *Registry) Steps() []string {
	keys := make([]string, 0, len(r.steps))
	for k := range r.steps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lookup[F any](m map[string]F, kind, key string) (F, error) {
	f, ok := m[normalize(key)]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s %q", ErrUnknownKey, kind, key)
	}
	return f, nil
}

// Receiver keys
const (
	ReceiverHTTP      = "http"
	ReceiverDatastore = "datastore"
	ReceiverDirectory = "directory"
)

// Exception handler keys
const (
	HandlerInbound  = "Inbound"
	HandlerOutbound = "Outbound"
	HandlerNotify   = "Notify"
)

func newHTTPReceiver(env *Env, agent string, s Settings) (msh.Receiver, error) {
	cfg := receivers.DefaultHTTPConfig()
	cfg.Address = s.String("address", cfg.Address)
	cfg.Path = s.String("path", cfg.Path)

	maxBody, err := s.Int("maxBodyBytes", int(cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	cfg.MaxBodyBytes = int64(maxBody)
	if cfg.RequestsPerSecond, err = s.Float("requestsPerSecond", 0); err != nil {
		return nil, err
	}
	if cfg.Burst, err = s.Int("burst", 0); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = s.Duration("readTimeout", cfg.ReadTimeout); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = s.Duration("writeTimeout", cfg.WriteTimeout); err != nil {
		return nil, err
	}
	if certFile := s.String("certFile", ""); certFile != "" {
		cfg.TLS = &transport.TLSFiles{
			CAFile:   s.String("caFile", ""),
			CertFile: certFile,
			KeyFile:  s.String("keyFile", ""),
		}
	}
	return receivers.NewHTTPReceiver(cfg, env.Logger.With("agent", agent)), nil
}

func newDatastoreReceiver(env *Env, agent string, s Settings) (msh.Receiver, error) {
	cfg := receivers.DefaultDatastoreConfig()
	cfg.Table = entities.Table(s.String("table", ""))
	cfg.Field = s.String("field", cfg.Field)
	cfg.Value = s.String("value", "")
	cfg.LockTo = s.String("lockTo", "")

	var err error
	if cfg.PollInterval, err = s.Duration("pollInterval", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = s.Int("batchSize", cfg.BatchSize); err != nil {
		return nil, err
	}
	return receivers.NewDatastoreReceiver(env.Repo, cfg, agent, env.Logger.With("agent", agent))
}

func newDirectoryReceiver(env *Env, agent string, s Settings) (msh.Receiver, error) {
	interval, err := s.Duration("pollInterval", 0)
	if err != nil {
		return nil, err
	}
	return receivers.NewDirectoryReceiver(receivers.DirectoryConfig{
		Path:         s.String("path", ""),
		Pattern:      s.String("pattern", ""),
		PollInterval: interval,
	}, env.Logger.With("agent", agent))
}
