package msh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sirosfoundation/go-msh/internal/observability"
)

// Outcome is the way an item left the agent
type Outcome string

const (
	// OutcomeSuccess means the normal pipeline completed
	OutcomeSuccess Outcome = "success"
	// OutcomeErrorPipeline means a step failed and the error pipeline completed
	OutcomeErrorPipeline Outcome = "error_pipeline"
	// OutcomeTransformationException means the transformer failed
	OutcomeTransformationException Outcome = "transformation_exception"
	// OutcomeExecutionException means a normal pipeline step failed
	OutcomeExecutionException Outcome = "execution_exception"
	// OutcomeErrorException means an error pipeline step failed
	OutcomeErrorException Outcome = "error_exception"
)

// ErrNoReceiver is returned for an agent configured without a receiver
var ErrNoReceiver = errors.New("agent has no receiver")

// AgentConfig assembles an agent
type AgentConfig struct {
	Name             string
	Receiver         Receiver
	Transformer      Transformer
	Steps            []Step
	ErrorSteps       []Step
	ExceptionHandler ExceptionHandler
	Logger           *slog.Logger
}

// Agent runs items from its receiver through a transformer and pipelines
type Agent struct {
	name        string
	receiver    Receiver
	transformer Transformer
	steps       []Step
	errorSteps  []Step
	handler     ExceptionHandler
	logger      *slog.Logger
}

// NewAgent validates cfg and creates an agent
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Receiver == nil {
		return nil, fmt.Errorf("agent %s: %w", cfg.Name, ErrNoReceiver)
	}
	if cfg.Transformer == nil {
		return nil, fmt.Errorf("agent %s: transformer is required", cfg.Name)
	}
	if cfg.ExceptionHandler == nil {
		return nil, fmt.Errorf("agent %s: exception handler is required", cfg.Name)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		name:        cfg.Name,
		receiver:    cfg.Receiver,
		transformer: cfg.Transformer,
		steps:       cfg.Steps,
		errorSteps:  cfg.ErrorSteps,
		handler:     cfg.ExceptionHandler,
		logger:      logger.With("agent", cfg.Name),
	}, nil
}

// Name returns the agent name
func (a *Agent) Name() string { return a.name }

// Start runs the receiver until ctx is done or Stop is called
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("agent started")
	err := a.receiver.Start(ctx, a.Handle)
	a.logger.Info("agent stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops the receiver. Items already received are finished.
func (a *Agent) Stop() {
	a.receiver.Stop()
}

// Handle processes one item. It is the Handler given to the receiver.
func (a *Agent) Handle(ctx context.Context, item any) *MessagingContext {
	_, mc := a.Process(ctx, item)
	return mc
}

// Process runs item through the agent and reports how it ended. Exactly one
// outcome is produced and the exception handler is called at most once.
func (a *Agent) Process(ctx context.Context, item any) (Outcome, *MessagingContext) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "agent.process", attribute.String("msh.agent", a.name))

	outcome, mc, err := a.process(ctx, item)

	observability.RecordAgentItem(a.name, string(outcome), time.Since(start))
	span.SetAttributes(attribute.String("msh.outcome", string(outcome)))
	observability.EndSpan(span, err)
	return outcome, mc
}

func (a *Agent) process(ctx context.Context, item any) (Outcome, *MessagingContext, error) {
	mc, err := a.transform(ctx, item)
	if err != nil {
		a.logger.Error("transformation failed", "error", err)
		return OutcomeTransformationException, a.handler.HandleTransformationException(ctx, err, item), err
	}
	logger := a.logger
	if id := mc.MessageID(); id != "" {
		logger = logger.With("message_id", id)
	}

	result, failed, err := a.run(ctx, a.steps, mc)
	if err != nil {
		logger.Error("step failed", "error", err)
		return OutcomeExecutionException, a.handler.HandleExecutionException(ctx, err, result), err
	}
	if !failed {
		logger.Debug("item processed")
		return OutcomeSuccess, result, nil
	}

	logger.Info("running error pipeline")
	result, _, err = a.run(ctx, a.errorSteps, result)
	if err != nil {
		logger.Error("error pipeline step failed", "error", err)
		return OutcomeErrorException, a.handler.HandleErrorException(ctx, err, result), err
	}
	return OutcomeErrorPipeline, result, nil
}

func (a *Agent) transform(ctx context.Context, item any) (mc *MessagingContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("transformer panicked", "panic", r, "stack", string(debug.Stack()))
			mc, err = nil, fmt.Errorf("transformer panicked: %v", r)
		}
	}()
	mc, err = a.transformer.Transform(ctx, item)
	if err == nil && mc == nil {
		err = errors.New("transformer returned no context")
	}
	return mc, err
}

// run executes steps in order. It returns the context in flight, whether a
// step reported a business failure, and the error of a step that failed.
func (a *Agent) run(ctx context.Context, steps []Step, mc *MessagingContext) (*MessagingContext, bool, error) {
	current := mc
	for _, step := range steps {
		if step == nil {
			continue
		}
		res, err := a.execute(ctx, step, current)
		if err != nil {
			return current, false, err
		}
		if res.Context != nil {
			current = res.Context
		}
		if !res.Succeeded {
			return current, true, nil
		}
		if !res.CanProceed {
			break
		}
	}
	return current, false, nil
}

func (a *Agent) execute(ctx context.Context, step Step, mc *MessagingContext) (res StepResult, err error) {
	name := StepName(step)
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "step.execute", attribute.String("msh.step", name))

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("step panicked", "step", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &StepError{Step: name, Err: err}
		}
		result := "succeeded"
		switch {
		case err != nil:
			result = "error"
		case !res.Succeeded:
			result = "failed"
		}
		observability.RecordStep(a.name, name, result, time.Since(start))
		observability.EndSpan(span, err)
	}()

	return step.Execute(ctx, mc)
}
