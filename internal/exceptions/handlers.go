package exceptions

import (
	"context"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
)

// InboundExceptionHandler records failures of the agents that receive,
// deliver or forward messages as in exceptions.
type InboundExceptionHandler struct {
	Deps *Deps
}

// HandleTransformationException implements msh.ExceptionHandler
func (h *InboundExceptionHandler) HandleTransformationException(ctx context.Context, err error, item any) *msh.MessagingContext {
	f := fromItem(item)
	h.Deps.resolveReceiving(f)
	h.handle(ctx, f, err)
	return itemContext(item).WithException(err)
}

// HandleExecutionException implements msh.ExceptionHandler
func (h *InboundExceptionHandler) HandleExecutionException(ctx context.Context, err error, mc *msh.MessagingContext) *msh.MessagingContext {
	f := fromContext(mc)
	snapshot, _ := mc.ReceivingPModeString()
	h.Deps.withReceiving(f, mc.ReceivingPMode(), snapshot)
	h.handle(ctx, f, err)
	return mc.WithException(err)
}

// HandleErrorException implements msh.ExceptionHandler
func (h *InboundExceptionHandler) HandleErrorException(ctx context.Context, err error, mc *msh.MessagingContext) *msh.MessagingContext {
	return h.HandleExecutionException(ctx, err, mc)
}

func (h *InboundExceptionHandler) handle(ctx context.Context, f *failure, cause error) {
	logger := h.Deps.logger().With("message_id", f.refID, "pmode", f.pmodeID)
	logger.Error("inbound processing failed", "error", cause)

	op := entities.NotApplicable
	if f.notifies() {
		op = entities.ToBeNotified
	}
	if _, err := h.Deps.persist(ctx, entities.TableInExceptions, f, cause, op); err != nil {
		logger.Error("recording in exception", "error", err)
	}
	if err := h.Deps.release(ctx, f.table, f.id, false); err != nil {
		logger.Error("updating failed record", "table", f.table, "id", f.id, "error", err)
	}
}

// OutboundExceptionHandler records failures of the agents that submit,
// process and send messages as out exceptions.
//
// A failure that cannot be reported back to a submitter, because it
// happened after the submission was accepted, gets a retry record when the
// sending P-Mode notifies exceptions reliably.
type OutboundExceptionHandler struct {
	Deps *Deps
}

// HandleTransformationException implements msh.ExceptionHandler
func (h *OutboundExceptionHandler) HandleTransformationException(ctx context.Context, err error, item any) *msh.MessagingContext {
	f := fromItem(item)
	h.Deps.resolveSending(f)
	_, raw := item.(*msh.ReceivedMessage)
	h.handle(ctx, f, err, raw)
	return itemContext(item).WithException(err)
}

// HandleExecutionException implements msh.ExceptionHandler
func (h *OutboundExceptionHandler) HandleExecutionException(ctx context.Context, err error, mc *msh.MessagingContext) *msh.MessagingContext {
	f := fromContext(mc)
	h.Deps.withSending(f, mc.SendingPMode())
	h.handle(ctx, f, err, mc.Mode() == msh.ModeSubmit)
	return mc.WithException(err)
}

// HandleErrorException implements msh.ExceptionHandler
func (h *OutboundExceptionHandler) HandleErrorException(ctx context.Context, err error, mc *msh.MessagingContext) *msh.MessagingContext {
	return h.HandleExecutionException(ctx, err, mc)
}

func (h *OutboundExceptionHandler) handle(ctx context.Context, f *failure, cause error, submitted bool) {
	logger := h.Deps.logger().With("message_id", f.refID, "pmode", f.pmodeID)
	logger.Error("outbound processing failed", "error", cause)

	op := entities.NotApplicable
	if f.notifies() {
		op = entities.ToBeNotified
	}
	id, err := h.Deps.persist(ctx, entities.TableOutExceptions, f, cause, op)
	if err != nil {
		logger.Error("recording out exception", "error", err)
	} else if rel := f.retries(); rel != nil && !submitted {
		rr := &entities.RetryReliability{
			RefToOutExceptionID: id,
			RetryType:           entities.RetryNotification,
			Status:              entities.ReceptionPending,
			MaxRetryCount:       rel.RetryCount,
			RetryInterval:       rel.RetryInterval,
			LastRetryTime:       h.Deps.now(),
		}
		if err := h.Deps.Repo.Insert(ctx, rr); err != nil {
			logger.Error("scheduling exception notification retries", "error", err)
		}
	}
	if err := h.Deps.release(ctx, f.table, f.id, false); err != nil {
		logger.Error("updating failed record", "table", f.table, "id", f.id, "error", err)
	}
}

// NotifyExceptionHandler handles failures while notifying a business
// application. The notified record is dead-lettered with status Exception
// and its retries are stopped. The failure is recorded for operators but
// never queued for notification itself.
type NotifyExceptionHandler struct {
	Deps *Deps
}

// HandleTransformationException implements msh.ExceptionHandler
func (h *NotifyExceptionHandler) HandleTransformationException(ctx context.Context, err error, item any) *msh.MessagingContext {
	h.handle(ctx, fromItem(item), err)
	return itemContext(item).WithException(err)
}

// HandleExecutionException implements msh.ExceptionHandler
func (h *NotifyExceptionHandler) HandleExecutionException(ctx context.Context, err error, mc *msh.MessagingContext) *msh.MessagingContext {
	f := fromContext(mc)
	if env := mc.NotifyEnvelope(); env != nil {
		f.table, f.id = env.Table, env.EntityID
	}
	if pm := mc.SendingPMode(); pm != nil {
		f.pmodeID = pm.ID
	} else if pm := mc.ReceivingPMode(); pm != nil {
		f.pmodeID = pm.ID
	}
	h.handle(ctx, f, err)
	return mc.WithException(err)
}

// HandleErrorException implements msh.ExceptionHandler
func (h *NotifyExceptionHandler) HandleErrorException(ctx context.Context, err error, mc *msh.MessagingContext) *msh.MessagingContext {
	return h.HandleExecutionException(ctx, err, mc)
}

func (h *NotifyExceptionHandler) handle(ctx context.Context, f *failure, cause error) {
	logger := h.Deps.logger().With("message_id", f.refID, "table", f.table, "id", f.id)
	logger.Error("notification failed", "error", cause)

	table := entities.TableInExceptions
	if f.table == entities.TableOutMessages || f.table == entities.TableOutExceptions {
		table = entities.TableOutExceptions
	}
	if _, err := h.Deps.persist(ctx, table, f, cause, entities.NotApplicable); err != nil {
		logger.Error("recording notification failure", "error", err)
	}
	if err := h.Deps.release(ctx, f.table, f.id, true); err != nil {
		logger.Error("dead-lettering notified record", "error", err)
	}
	if err := h.Deps.completeRetry(ctx, f.table, f.id); err != nil {
		logger.Error("completing retries of notified record", "error", err)
	}
}

var (
	_ msh.ExceptionHandler = (*InboundExceptionHandler)(nil)
	_ msh.ExceptionHandler = (*OutboundExceptionHandler)(nil)
	_ msh.ExceptionHandler = (*NotifyExceptionHandler)(nil)
)
