package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

// ReceptionAwarenessUpdateStep decides what happens to a sent message that
// still awaits its receipt. It runs on records claimed from Pending to Busy
// and always leaves them Pending or Completed.
//
// A message that was acknowledged or dead-lettered completes the record. A
// message that is still being sent, or whose retry interval has not passed,
// is left alone.
// Otherwise it is sent again until the retry count is used up; after that it
// is dead-lettered and an EBMS:0301 MissingReceipt error is recorded as if
// the remote MSH had returned it.
type ReceptionAwarenessUpdateStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *ReceptionAwarenessUpdateStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	ra := mc.ReceptionAwareness()
	if ra == nil {
		return msh.StepResult{}, errors.New("context has no reception awareness record")
	}
	logger := s.Deps.logger().With("message_id", ra.RefToEbmsMessageID)

	err := s.update(ctx, ra)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Warn("reception awareness refers to a missing out message", "out_message", ra.RefToOutMessageID)
		ra.Status = entities.ReceptionCompleted
	case err != nil:
		return msh.StepResult{}, err
	}

	if err := s.Deps.Repo.Save(ctx, ra); err != nil {
		return msh.StepResult{}, err
	}
	return msh.Success(mc.WithReceptionAwareness(ra)), nil
}

type awarenessAction int

const (
	awaitReceipt awarenessAction = iota
	receiptSettled
	resend
	giveUp
)

// update decides on the out message as currently stored and moves it in the
// same conditional write, so a receipt stored meanwhile is never overwritten.
func (s *ReceptionAwarenessUpdateStep) update(ctx context.Context, ra *entities.ReceptionAwareness) error {
	now := s.Deps.now()
	var (
		action awarenessAction
		out    entities.OutMessage
	)
	err := s.Deps.update(ctx, entities.TableOutMessages, ra.RefToOutMessageID, func(e entities.Entity) error {
		m := e.(*entities.OutMessage)
		switch {
		case m.Status == entities.OutAck || m.Status == entities.OutNack, m.Operation == entities.DeadLettered:
			action = receiptSettled
		case inFlight(m.Operation) || !ra.Due(now):
			action = awaitReceipt
		case !ra.Exhausted():
			action = resend
			m.Lock(string(entities.ToBeSent))
		default:
			action = giveUp
			m.Lock(string(entities.DeadLettered))
			m.Status = entities.OutNack
		}
		out = *m
		return nil
	})
	if err != nil {
		return err
	}

	switch action {
	case receiptSettled:
		ra.Status = entities.ReceptionCompleted
	case awaitReceipt:
		ra.Status = entities.ReceptionPending
	case resend:
		ra.CurrentRetryCount++
		ra.LastSendTime = now
		ra.Status = entities.ReceptionPending
		s.Deps.logger().Info("resending message without receipt", "message_id", out.EbmsMessageID, "attempt", ra.CurrentRetryCount)
	case giveUp:
		ra.Status = entities.ReceptionCompleted
		return s.missingReceipt(ctx, ra, &out)
	}
	return nil
}

func inFlight(op entities.Operation) bool {
	switch op {
	case entities.ToBeProcessed, entities.Processing, entities.ToBeSent, entities.Sending:
		return true
	}
	return false
}

// missingReceipt records a MissingReceipt error for a dead-lettered out
// message, queued for notification when the sending P-Mode wants errors
// notified.
func (s *ReceptionAwarenessUpdateStep) missingReceipt(ctx context.Context, ra *entities.ReceptionAwareness, out *entities.OutMessage) error {
	desc := fmt.Sprintf("no receipt received after %d retries", ra.CurrentRetryCount)
	sig := ebms.NewError(out.EbmsMessageID, ebms.ErrMissingReceipt, desc)
	location, contentType, err := bodystore.SaveMessage(ctx, s.Deps.Bodies, s.Deps.serializer(), s.Deps.InLocation, ebms.NewAS4Message(sig))
	if err != nil {
		return err
	}

	in := &entities.InMessage{Status: entities.InReceived}
	in.Describe(sig)
	in.MEP = entities.Push
	in.ContentType = contentType
	in.MessageLocation = location
	in.PModeID, in.PMode = out.PModeID, out.PMode
	in.Operation = entities.NotApplicable
	if pm, err := s.Deps.sendingPMode(out.PMode, out.PModeID); err == nil && pm.NotifiesErrors() {
		in.Operation = entities.ToBeNotified
	}
	if err := s.Deps.Repo.Insert(ctx, in); err != nil {
		return err
	}
	s.Deps.logger().Warn("message dead-lettered without receipt", "message_id", out.EbmsMessageID, "retries", ra.CurrentRetryCount)
	return nil
}

// RetryStep reschedules a delivery or notification whose previous attempt
// failed. It runs on retry records claimed from Pending to Busy.
//
// While the target waits as ToBeRetried and the interval has passed, it is
// handed back to the deliver or notify agent until the retry count is used
// up, at which point the target is dead-lettered. A target that left the
// retry cycle completes the record.
type RetryStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *RetryStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	rr := mc.RetryReliability()
	if rr == nil {
		return msh.StepResult{}, errors.New("context has no retry record")
	}
	table, id := rr.Target()
	if table == "" {
		rr.Status = entities.ReceptionCompleted
	} else if err := s.retry(ctx, rr, table, id); err != nil {
		return msh.StepResult{}, err
	}

	if err := s.Deps.Repo.Save(ctx, rr); err != nil {
		return msh.StepResult{}, err
	}
	return msh.Success(mc.WithRetryReliability(rr)), nil
}

func (s *RetryStep) retry(ctx context.Context, rr *entities.RetryReliability, table entities.Table, id int64) error {
	now := s.Deps.now()
	logger := s.Deps.logger().With("target", table, "target_id", id)

	next := entities.ToBeDelivered
	if rr.RetryType == entities.RetryNotification {
		next = entities.ToBeNotified
	}
	var (
		op        entities.Operation
		exhausted bool
	)
	err := s.Deps.update(ctx, table, id, func(target entities.Entity) error {
		op, exhausted = operationOf(target), false
		l, ok := target.(locker)
		if !ok || op != entities.ToBeRetried || !rr.Due(now) {
			return nil
		}
		if rr.Exhausted() {
			exhausted = true
			l.Lock(string(entities.DeadLettered))
			markException(target)
			return nil
		}
		l.Lock(string(next))
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		rr.Status = entities.ReceptionCompleted
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case op != entities.ToBeRetried:
		rr.Status = entities.ReceptionPending
		if terminal(op) {
			rr.Status = entities.ReceptionCompleted
		}
	case !rr.Due(now):
		rr.Status = entities.ReceptionPending
	case exhausted:
		rr.Status = entities.ReceptionCompleted
		logger.Warn("retries exhausted", "retry_type", rr.RetryType, "retries", rr.CurrentRetryCount)
	default:
		rr.CurrentRetryCount++
		rr.LastRetryTime = now
		rr.Status = entities.ReceptionPending
		logger.Info("retrying", "retry_type", rr.RetryType, "attempt", rr.CurrentRetryCount)
	}
	return nil
}

func terminal(op entities.Operation) bool {
	switch op {
	case entities.Delivered, entities.Notified, entities.Forwarded, entities.Sent, entities.DeadLettered, entities.NotApplicable:
		return true
	}
	return false
}
