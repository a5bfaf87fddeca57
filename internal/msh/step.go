package msh

import (
	"context"
	"fmt"
)

// StepResult is the outcome of one step
type StepResult struct {
	// Succeeded is false for business failures such as a rejected message.
	// The agent then runs the error pipeline.
	Succeeded bool

	// CanProceed is false when the remaining steps must be skipped
	CanProceed bool

	Context *MessagingContext
}

// Success continues the pipeline with ctx
func Success(ctx *MessagingContext) StepResult {
	return StepResult{Succeeded: true, CanProceed: true, Context: ctx}
}

// Failed stops the normal pipeline and hands ctx to the error pipeline
func Failed(ctx *MessagingContext) StepResult {
	return StepResult{Succeeded: false, CanProceed: false, Context: ctx}
}

// FailedWith is Failed with an error result attached to ctx
func FailedWith(ctx *MessagingContext, r *ErrorResult) StepResult {
	return Failed(ctx.WithErrorResult(r))
}

// AndStopExecution returns a copy of r that ends the pipeline after this step
func (r StepResult) AndStopExecution() StepResult {
	r.CanProceed = false
	return r
}

// Step is one unit of work in a pipeline. Returning an error aborts the
// pipeline and hands the item to the exception handler; returning a failed
// result hands it to the error pipeline.
type Step interface {
	Execute(ctx context.Context, mc *MessagingContext) (StepResult, error)
}

// StepFunc adapts a function to Step
type StepFunc func(ctx context.Context, mc *MessagingContext) (StepResult, error)

// Execute implements Step
func (f StepFunc) Execute(ctx context.Context, mc *MessagingContext) (StepResult, error) {
	return f(ctx, mc)
}

// Named is implemented by steps that report a name for logs and metrics
type Named interface {
	Name() string
}

// StepName returns the name of a step
func StepName(s Step) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// Transformer turns a received item into a context
type Transformer interface {
	Transform(ctx context.Context, item any) (*MessagingContext, error)
}

// TransformerFunc adapts a function to Transformer
type TransformerFunc func(ctx context.Context, item any) (*MessagingContext, error)

// Transform implements Transformer
func (f TransformerFunc) Transform(ctx context.Context, item any) (*MessagingContext, error) {
	return f(ctx, item)
}

// Handler processes one received item and returns the terminal context.
// The caller owns the returned context and must Close it.
type Handler func(ctx context.Context, item any) *MessagingContext

// Receiver produces items for an agent. Start blocks until ctx is done or
// Stop is called. Stop returns after the item in flight has been handled.
type Receiver interface {
	Start(ctx context.Context, handle Handler) error
	Stop()
}

// ExceptionHandler turns a failed item into a terminal context, typically
// after persisting an exception record. Each hook is called at most once
// per item and only one hook is called.
type ExceptionHandler interface {
	// HandleTransformationException is called when the transformer fails
	HandleTransformationException(ctx context.Context, err error, item any) *MessagingContext

	// HandleExecutionException is called when a normal pipeline step fails
	HandleExecutionException(ctx context.Context, err error, mc *MessagingContext) *MessagingContext

	// HandleErrorException is called when an error pipeline step fails
	HandleErrorException(ctx context.Context, err error, mc *MessagingContext) *MessagingContext
}

// StepError is returned for a step that failed or panicked
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
