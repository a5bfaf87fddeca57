package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/senders"
	"github.com/sirosfoundation/go-msh/internal/transformers"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// ErrNoMethod is returned when a P-Mode names no deliver or notify method
var ErrNoMethod = errors.New("pmode has no deliver or notify method")

// SendDeliverMessageStep hands a received user message to its business
// application with the deliver method of the receiving P-Mode.
type SendDeliverMessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *SendDeliverMessageStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	env := mc.DeliverEnvelope()
	pm := mc.ReceivingPMode()
	if env == nil || pm == nil {
		return msh.StepResult{}, errors.New("context has no deliver envelope")
	}
	if !pm.Delivers() {
		return msh.StepResult{}, fmt.Errorf("%w: %s", ErrNoMethod, pm.ID)
	}
	deliver := pm.MessageHandling.Deliver
	return s.Deps.dispatch(ctx, mc, &env.Envelope, &deliver.DeliverMethod, dispatchPolicy{
		done:        entities.Delivered,
		retryType:   entities.RetryDelivery,
		reliability: deliver.Reliability,
		code:        ebms.ErrDeliveryFailure,
	})
}

// SendNotifyMessageStep tells a business application about a receipt, an
// error or an exception with the notify method the P-Mode configures for it.
type SendNotifyMessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *SendNotifyMessageStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	env := mc.NotifyEnvelope()
	if env == nil {
		return msh.StepResult{}, errors.New("context has no notify envelope")
	}
	n := notification(mc, env)
	if n == nil || n.Method == nil {
		return msh.StepResult{}, fmt.Errorf("%w: %s notification of %s", ErrNoMethod, env.Status, env.MessageID)
	}
	return s.Deps.dispatch(ctx, mc, &env.Envelope, n.Method, dispatchPolicy{
		done:        entities.Notified,
		retryType:   entities.RetryNotification,
		reliability: n.Reliability,
		code:        ebms.ErrOther,
	})
}

// notification returns the P-Mode section that governs an envelope: the
// receipt or error handling of the sending P-Mode for signals, the
// exception handling of the P-Mode on the side the exception happened.
func notification(mc *msh.MessagingContext, env *msh.NotifyEnvelope) *pmode.Notification {
	switch env.Table {
	case entities.TableInExceptions:
		if pm := mc.ReceivingPMode(); pm != nil {
			return pm.ExceptionHandling
		}
	case entities.TableOutExceptions:
		if pm := mc.SendingPMode(); pm != nil {
			return pm.ExceptionHandling
		}
	case entities.TableInMessages:
		pm := mc.SendingPMode()
		if pm == nil {
			return nil
		}
		if env.Status == transformers.StatusError {
			return pm.ErrorHandling
		}
		return pm.ReceiptHandling
	}
	return nil
}

type dispatchPolicy struct {
	done        entities.Operation
	retryType   entities.RetryType
	reliability *pmode.RetryReliability
	code        ebms.ErrorCode
}

// dispatch sends an envelope and records the outcome on the record it was
// built from. A retryable failure is rescheduled when the policy enables
// retries; any other failure dead-letters the record and is returned.
func (d *Deps) dispatch(ctx context.Context, mc *msh.MessagingContext, env *msh.Envelope, method *pmode.Method, p dispatchPolicy) (msh.StepResult, error) {
	logger := d.logger().With("message_id", env.MessageID, "method", method.Type)
	res := d.Senders.Send(ctx, method, env)

	switch {
	case res.Status == senders.Success:
		err := d.update(ctx, env.Table, env.EntityID, func(e entities.Entity) error {
			if l, ok := e.(locker); ok {
				l.Lock(string(p.done))
			}
			if in, ok := e.(*entities.InMessage); ok {
				if p.done == entities.Delivered {
					in.Status = entities.InDelivered
				} else {
					in.Status = entities.InNotified
				}
			}
			return nil
		})
		if err != nil {
			return msh.StepResult{}, err
		}
		if err := d.completeRetry(ctx, env.Table, env.EntityID); err != nil {
			return msh.StepResult{}, err
		}
		logger.Info("envelope sent", "operation", p.done)
		return msh.Success(mc), nil

	case res.Status == senders.RetryableFail && p.reliability != nil && p.reliability.Enabled:
		logger.Warn("send failed, will retry", "error", res.Err)
		if err := d.scheduleRetry(ctx, env.Table, env.EntityID, p.retryType, p.reliability); err != nil {
			return msh.StepResult{}, err
		}
		return msh.Failed(mc.WithErrorResult(&msh.ErrorResult{Code: p.code, Description: res.Err.Error()})), nil
	}

	cause := fmt.Errorf("%s via %s: %w", p.retryType, method.Type, res.Err)
	if err := d.deadLetter(ctx, env.Table, env.EntityID); err != nil {
		return msh.StepResult{}, errors.Join(cause, err)
	}
	return msh.StepResult{}, cause
}
