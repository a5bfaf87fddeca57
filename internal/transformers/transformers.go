package transformers

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// ErrUnexpectedItem is returned for items of the wrong type
var ErrUnexpectedItem = errors.New("unexpected item type")

func unexpected(item any) error {
	return fmt.Errorf("%w: %T", ErrUnexpectedItem, item)
}

// Dependencies are the stores transformers of persisted records read from
type Dependencies struct {
	Bodies     bodystore.Store
	Serializer ebms.Serializer
	PModes     pmode.Source
}

func (d *Dependencies) serializer() ebms.Serializer {
	if d.Serializer == nil {
		return ebms.MIMESerializer{}
	}
	return d.Serializer
}

func (d *Dependencies) loadMessage(ctx context.Context, m *entities.MessageEntity) (*ebms.AS4Message, error) {
	msg, err := bodystore.LoadMessage(ctx, d.Bodies, d.serializer(), m.MessageLocation, m.ContentType)
	if err != nil {
		return nil, fmt.Errorf("loading message %s: %w", m.EbmsMessageID, err)
	}
	return msg, nil
}

// SendingPMode decodes a stored snapshot, falling back to the source by id
func (d *Dependencies) SendingPMode(snapshot, id string) (*pmode.SendingProcessingMode, error) {
	if snapshot != "" {
		return pmode.UnmarshalSending(snapshot)
	}
	if id == "" {
		return nil, errors.New("record has no sending pmode")
	}
	if d.PModes == nil {
		return nil, fmt.Errorf("%w: %s", pmode.ErrPModeNotFound, id)
	}
	return d.PModes.SendingPMode(id)
}

// ReceivingPMode decodes a stored snapshot, falling back to the source by id
func (d *Dependencies) ReceivingPMode(snapshot, id string) (*pmode.ReceivingProcessingMode, error) {
	if snapshot != "" {
		return pmode.UnmarshalReceiving(snapshot)
	}
	if id == "" {
		return nil, errors.New("record has no receiving pmode")
	}
	if d.PModes == nil {
		return nil, fmt.Errorf("%w: %s", pmode.ErrPModeNotFound, id)
	}
	return d.PModes.ReceivingPMode(id)
}

// ReceiveMessageTransformer wraps a raw inbound body
type ReceiveMessageTransformer struct{}

// Transform implements msh.Transformer
func (ReceiveMessageTransformer) Transform(_ context.Context, item any) (*msh.MessagingContext, error) {
	rm, ok := item.(*msh.ReceivedMessage)
	if !ok {
		return nil, unexpected(item)
	}
	return msh.NewContext(msh.ModeReceive).WithReceivedMessage(rm), nil
}

// SubmitMessageTransformer parses a SubmitMessage document
type SubmitMessageTransformer struct{}

// Transform implements msh.Transformer
func (SubmitMessageTransformer) Transform(_ context.Context, item any) (*msh.MessagingContext, error) {
	rm, ok := item.(*msh.ReceivedMessage)
	if !ok {
		return nil, unexpected(item)
	}
	defer rm.Close()

	data, err := rm.Bytes()
	if err != nil {
		return nil, err
	}
	sm, err := ParseSubmitMessage(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return msh.NewContext(msh.ModeSubmit).WithSubmitMessage(sm), nil
}

// OutMessageTransformer loads a stored outbound message for processing or sending
type OutMessageTransformer struct {
	Deps *Dependencies
}

// Transform implements msh.Transformer
func (t *OutMessageTransformer) Transform(ctx context.Context, item any) (*msh.MessagingContext, error) {
	m, ok := item.(*entities.OutMessage)
	if !ok {
		return nil, unexpected(item)
	}
	pm, err := t.Deps.SendingPMode(m.PMode, m.PModeID)
	if err != nil {
		return nil, fmt.Errorf("out message %d: %w", m.ID, err)
	}
	msg, err := t.Deps.loadMessage(ctx, &m.MessageEntity)
	if err != nil {
		return nil, err
	}
	return msh.NewContext(msh.ModeSend).
		WithAS4Message(msg).
		WithSendingPMode(pm).
		WithEntity(entities.TableOutMessages, m.ID), nil
}

// DeliverMessageTransformer renders a received user message as a deliver envelope
type DeliverMessageTransformer struct {
	Deps *Dependencies
}

// Transform implements msh.Transformer
func (t *DeliverMessageTransformer) Transform(ctx context.Context, item any) (*msh.MessagingContext, error) {
	m, ok := item.(*entities.InMessage)
	if !ok {
		return nil, unexpected(item)
	}
	pm, err := t.Deps.ReceivingPMode(m.PMode, m.PModeID)
	if err != nil {
		return nil, fmt.Errorf("in message %d: %w", m.ID, err)
	}
	msg, err := t.Deps.loadMessage(ctx, &m.MessageEntity)
	if err != nil {
		return nil, err
	}
	defer msg.Close()

	body, err := BuildDeliverMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("in message %d: %w", m.ID, err)
	}
	env := &msh.DeliverEnvelope{Envelope: msh.Envelope{
		MessageID:   m.EbmsMessageID,
		Table:       entities.TableInMessages,
		EntityID:    m.ID,
		ContentType: DocumentContentType,
		Body:        body,
	}}
	return msh.NewContext(msh.ModeDeliver).
		WithDeliverEnvelope(env).
		WithReceivingPMode(pm).
		WithEntity(entities.TableInMessages, m.ID), nil
}

// NotifyMessageTransformer renders a received signal or an exception as a
// notify envelope. Signals and outbound exceptions carry the sending
// P-Mode, inbound exceptions the receiving P-Mode.
type NotifyMessageTransformer struct {
	Deps *Dependencies
}

// Transform implements msh.Transformer
func (t *NotifyMessageTransformer) Transform(ctx context.Context, item any) (*msh.MessagingContext, error) {
	switch e := item.(type) {
	case *entities.InMessage:
		return t.signal(ctx, e)
	case *entities.InException:
		pm, err := t.Deps.ReceivingPMode(e.PMode, e.PModeID)
		if err != nil {
			return nil, fmt.Errorf("in exception %d: %w", e.ID, err)
		}
		mc, err := exceptionContext(&e.ExceptionEntity, entities.TableInExceptions)
		if err != nil {
			return nil, err
		}
		return mc.WithReceivingPMode(pm), nil
	case *entities.OutException:
		pm, err := t.Deps.SendingPMode(e.PMode, e.PModeID)
		if err != nil {
			return nil, fmt.Errorf("out exception %d: %w", e.ID, err)
		}
		mc, err := exceptionContext(&e.ExceptionEntity, entities.TableOutExceptions)
		if err != nil {
			return nil, err
		}
		return mc.WithSendingPMode(pm), nil
	}
	return nil, unexpected(item)
}

func (t *NotifyMessageTransformer) signal(ctx context.Context, m *entities.InMessage) (*msh.MessagingContext, error) {
	pm, err := t.Deps.SendingPMode(m.PMode, m.PModeID)
	if err != nil {
		return nil, fmt.Errorf("in message %d: %w", m.ID, err)
	}

	status := StatusReceipt
	var details []NotifyDetail
	if m.EbmsMessageType == entities.ErrorType {
		status = StatusError
		msg, err := t.Deps.loadMessage(ctx, &m.MessageEntity)
		if err != nil {
			return nil, err
		}
		for _, s := range msg.SignalMessages {
			for _, e := range s.Errors {
				desc := e.Description
				if desc == "" {
					desc = e.ShortDescription
				}
				details = append(details, NotifyDetail{Code: e.ErrorCode, Severity: e.Severity, Description: desc})
			}
		}
		msg.Close()
	} else if m.EbmsMessageType != entities.ReceiptType {
		return nil, fmt.Errorf("in message %d is a %s, not a signal", m.ID, m.EbmsMessageType)
	}

	body, err := BuildNotifyMessage(m.EbmsMessageID, m.EbmsRefToMessageID, status, m.InsertionTime, details)
	if err != nil {
		return nil, err
	}
	env := &msh.NotifyEnvelope{
		Envelope: msh.Envelope{
			MessageID:   m.EbmsRefToMessageID,
			Table:       entities.TableInMessages,
			EntityID:    m.ID,
			ContentType: DocumentContentType,
			Body:        body,
		},
		Status: status,
	}
	return msh.NewContext(msh.ModeNotify).
		WithNotifyEnvelope(env).
		WithSendingPMode(pm).
		WithEntity(entities.TableInMessages, m.ID), nil
}

func exceptionContext(e *entities.ExceptionEntity, table entities.Table) (*msh.MessagingContext, error) {
	body, err := BuildNotifyMessage(ebms.NewMessageID(), e.EbmsRefToMessageID, StatusException, e.InsertionTime,
		[]NotifyDetail{{Code: ebms.ErrOther.Code, Severity: ebms.ErrOther.Severity, Description: e.Exception}})
	if err != nil {
		return nil, err
	}
	env := &msh.NotifyEnvelope{
		Envelope: msh.Envelope{
			MessageID:   e.EbmsRefToMessageID,
			Table:       table,
			EntityID:    e.ID,
			ContentType: DocumentContentType,
			Body:        body,
		},
		Status: StatusException,
	}
	return msh.NewContext(msh.ModeNotify).WithNotifyEnvelope(env).WithEntity(table, e.ID), nil
}

// ForwardMessageTransformer loads a received message that is to be forwarded
type ForwardMessageTransformer struct {
	Deps *Dependencies
}

// Transform implements msh.Transformer
func (t *ForwardMessageTransformer) Transform(ctx context.Context, item any) (*msh.MessagingContext, error) {
	m, ok := item.(*entities.InMessage)
	if !ok {
		return nil, unexpected(item)
	}
	pm, err := t.Deps.ReceivingPMode(m.PMode, m.PModeID)
	if err != nil {
		return nil, fmt.Errorf("in message %d: %w", m.ID, err)
	}
	msg, err := t.Deps.loadMessage(ctx, &m.MessageEntity)
	if err != nil {
		return nil, err
	}
	return msh.NewContext(msh.ModeForward).
		WithAS4Message(msg).
		WithReceivingPMode(pm).
		WithEntity(entities.TableInMessages, m.ID), nil
}

// ReceptionAwarenessTransformer wraps a claimed reception awareness record
type ReceptionAwarenessTransformer struct{}

// Transform implements msh.Transformer
func (ReceptionAwarenessTransformer) Transform(_ context.Context, item any) (*msh.MessagingContext, error) {
	ra, ok := item.(*entities.ReceptionAwareness)
	if !ok {
		return nil, unexpected(item)
	}
	return msh.NewContext(msh.ModeSend).
		WithReceptionAwareness(ra).
		WithEntity(entities.TableReceptionAwareness, ra.ID), nil
}

// RetryReliabilityTransformer wraps a claimed retry record
type RetryReliabilityTransformer struct{}

// Transform implements msh.Transformer
func (RetryReliabilityTransformer) Transform(_ context.Context, item any) (*msh.MessagingContext, error) {
	r, ok := item.(*entities.RetryReliability)
	if !ok {
		return nil, unexpected(item)
	}
	mode := msh.ModeDeliver
	if r.RetryType == entities.RetryNotification {
		mode = msh.ModeNotify
	}
	return msh.NewContext(mode).
		WithRetryReliability(r).
		WithEntity(entities.TableRetryReliability, r.ID), nil
}

var (
	_ msh.Transformer = ReceiveMessageTransformer{}
	_ msh.Transformer = SubmitMessageTransformer{}
	_ msh.Transformer = (*OutMessageTransformer)(nil)
	_ msh.Transformer = (*DeliverMessageTransformer)(nil)
	_ msh.Transformer = (*NotifyMessageTransformer)(nil)
	_ msh.Transformer = (*ForwardMessageTransformer)(nil)
	_ msh.Transformer = ReceptionAwarenessTransformer{}
	_ msh.Transformer = RetryReliabilityTransformer{}
)
