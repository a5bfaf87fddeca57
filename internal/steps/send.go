package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/observability"
	"github.com/sirosfoundation/go-msh/internal/senders"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
	"github.com/sirosfoundation/go-msh/pkg/transport"
)

// ErrNoEndpoint is returned for messages whose sending P-Mode has no push URL
var ErrNoEndpoint = errors.New("sending pmode has no push url")

// SendAS4MessageStep pushes an out message to the remote MSH.
//
// A sent user message whose P-Mode enables reception awareness gets a
// reception awareness record, so that it is resent until a receipt arrives.
// When the transfer fails and may succeed later, the same record schedules
// the resend. Other failures dead-letter the message and are returned to the
// exception handler. Signals in the synchronous response are processed like
// received signals.
type SendAS4MessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *SendAS4MessageStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	msg := mc.AS4Message()
	pm := mc.SendingPMode()
	table, id := mc.Entity()
	if msg.IsEmpty() || pm == nil || table != entities.TableOutMessages {
		return msh.StepResult{}, errors.New("context has no stored out message to send")
	}
	logger := s.Deps.logger().With("message_id", msg.PrimaryMessageID(), "pmode", pm.ID)

	client, err := s.client(pm)
	if err != nil {
		observability.RecordSend("AS4", senders.FatalFail.String())
		return msh.StepResult{}, s.abort(ctx, id, err)
	}
	var buf bytes.Buffer
	contentType, err := s.Deps.serializer().Serialize(msg, &buf)
	if err != nil {
		return msh.StepResult{}, s.abort(ctx, id, err)
	}

	awaitsReceipt := msg.IsUserMessage() && pm.ReceptionAwarenessEnabled()
	resp, err := client.Send(ctx, pm.URL(), buf.Bytes(), contentType)
	if err != nil {
		if !transport.IsRetryable(err) || !awaitsReceipt {
			observability.RecordSend("AS4", senders.FatalFail.String())
			return msh.StepResult{}, s.abort(ctx, id, fmt.Errorf("sending to %s: %w", pm.URL(), err))
		}
		observability.RecordSend("AS4", senders.RetryableFail.String())
		logger.Warn("send failed, will retry", "error", err)
		if err := s.track(ctx, id, msg.PrimaryMessageID(), pm, entities.ToBeRetried); err != nil {
			return msh.StepResult{}, err
		}
		return msh.Failed(mc.WithErrorResult(&msh.ErrorResult{Code: ebms.ErrConnectionFailure, Description: err.Error()})), nil
	}
	observability.RecordSend("AS4", senders.Success.String())
	logger.Info("message sent", "url", pm.URL())

	if awaitsReceipt {
		err = s.track(ctx, id, msg.PrimaryMessageID(), pm, entities.Sent)
	} else {
		err = s.setOperation(ctx, id, entities.Sent)
	}
	if err != nil {
		return msh.StepResult{}, err
	}

	// the message went out; response failures leave its state alone
	if err := s.processResponse(ctx, resp); err != nil {
		logger.Warn("response could not be processed", "error", err)
	}
	return msh.Success(mc), nil
}

func (s *SendAS4MessageStep) client(pm *pmode.SendingProcessingMode) (*transport.HTTPSClient, error) {
	if pm.URL() == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, pm.ID)
	}
	files := transport.TLSFiles{Timeout: pm.PushConfiguration.Timeout}
	if t := pm.PushConfiguration.TLS; t != nil {
		files.CAFile, files.CertFile, files.KeyFile = t.CAFile, t.CertFile, t.KeyFile
		files.InsecureSkipVerify = t.InsecureSkipVerify
	}
	return s.Deps.clients().Client(files)
}

// abort dead-letters the out message and returns cause for the exception handler
func (s *SendAS4MessageStep) abort(ctx context.Context, id int64, cause error) error {
	if err := s.Deps.deadLetter(ctx, entities.TableOutMessages, id); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *SendAS4MessageStep) setOperation(ctx context.Context, id int64, op entities.Operation) error {
	return s.Deps.update(ctx, entities.TableOutMessages, id, func(e entities.Entity) error {
		out := e.(*entities.OutMessage)
		out.Lock(string(op))
		if op == entities.Sent && out.Status == entities.OutCreated {
			out.Status = entities.OutSent
		}
		return nil
	})
}

// track creates the reception awareness record of an out message on its
// first send and moves the message to op.
func (s *SendAS4MessageStep) track(ctx context.Context, id int64, ebmsID string, pm *pmode.SendingProcessingMode, op entities.Operation) error {
	ra, err := s.Deps.Repo.FindReceptionAwareness(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cfg := pm.Reliability.ReceptionAwareness
		ra = &entities.ReceptionAwareness{
			RefToOutMessageID:  id,
			RefToEbmsMessageID: ebmsID,
			Status:             entities.ReceptionPending,
			TotalRetryCount:    cfg.RetryCount,
			RetryInterval:      cfg.RetryInterval,
			LastSendTime:       s.Deps.now(),
		}
		err = s.Deps.Repo.Insert(ctx, ra)
	case err != nil:
		return err
	default:
		// an existing record is owned by the reception awareness agent, which
		// counts and times the resends
	}
	if err != nil {
		return fmt.Errorf("tracking out message %d: %w", id, err)
	}
	return s.setOperation(ctx, id, op)
}

func (s *SendAS4MessageStep) processResponse(ctx context.Context, resp *transport.Response) error {
	if resp == nil || len(resp.Body) == 0 || resp.ContentType == "" {
		return nil
	}
	msg, err := s.Deps.serializer().Deserialize(bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return err
	}
	defer msg.Close()
	if len(msg.SignalMessages) == 0 {
		return nil
	}

	location, err := s.Deps.Bodies.Save(ctx, s.Deps.InLocation, bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("saving response body: %w", err)
	}
	for _, sig := range msg.SignalMessages {
		if _, err := s.Deps.storeSignal(ctx, sig, location, resp.ContentType); err != nil {
			return err
		}
	}
	return nil
}
