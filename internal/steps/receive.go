package steps

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

// DeserializeMessageStep parses a received body into an AS4 message. The
// raw bytes stay available on the received message for exception handling.
type DeserializeMessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *DeserializeMessageStep) Execute(_ context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	rm := mc.ReceivedMessage()
	if rm == nil {
		return msh.StepResult{}, errors.New("context has no received message")
	}
	data, err := rm.Bytes()
	rm.Close()
	if err != nil {
		return msh.StepResult{}, err
	}

	msg, err := s.Deps.serializer().Deserialize(bytes.NewReader(data), rm.ContentType)
	if err != nil {
		return msh.StepResult{}, err
	}
	if msg.IsEmpty() {
		return msh.StepResult{}, ebms.ErrEmptyMessage
	}
	return msh.Success(mc.WithAS4Message(msg)), nil
}

// DeterminePModesStep selects the receiving P-Mode of a received user
// message. A message no P-Mode matches unambiguously is answered with an
// EBMS:0010 error; there is no fallback P-Mode.
type DeterminePModesStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *DeterminePModesStep) Execute(_ context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	um := mc.AS4Message().FirstUserMessage()
	if um == nil {
		return msh.Success(mc), nil
	}
	pm, err := s.Deps.selector().Select(s.Deps.PModes.ReceivingPModes(), um)
	if err != nil {
		s.Deps.logger().Warn("no receiving pmode for message", "message_id", um.MessageID(), "error", err)
		return msh.FailedWith(mc, &msh.ErrorResult{Code: ebms.ErrProcessingModeMismatch, Description: err.Error()}), nil
	}
	return msh.Success(mc.WithReceivingPMode(pm)), nil
}

// DecompressAttachmentsStep restores gzip compressed payloads. Corrupt or
// oversized payloads are answered with an EBMS:0303 error.
type DecompressAttachmentsStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *DecompressAttachmentsStep) Execute(_ context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	msg := mc.AS4Message()
	c := s.Deps.compressor()
	changed := false
	for _, a := range msg.Attachments {
		if !a.IsCompressed() {
			continue
		}
		if err := c.DecompressAttachment(a); err != nil {
			return msh.FailedWith(mc, &msh.ErrorResult{Code: ebms.ErrDecompressionFailure, Description: err.Error()}), nil
		}
		changed = true
	}
	if changed {
		msg.RefreshPartInfo()
	}
	return msh.Success(mc), nil
}

// StoreReceivedMessageStep saves a received message and records each of its
// message units. User messages are queued for delivery or forwarding as
// their P-Mode says; duplicates are recorded but not processed again.
type StoreReceivedMessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *StoreReceivedMessageStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	msg := mc.AS4Message()
	location, contentType, err := bodystore.SaveMessage(ctx, s.Deps.Bodies, s.Deps.serializer(), s.Deps.InLocation, msg)
	if err != nil {
		return msh.StepResult{}, err
	}

	var first int64
	for _, um := range msg.UserMessages {
		in, err := s.storeUserMessage(ctx, mc, um, location, contentType)
		if err != nil {
			return msh.StepResult{}, err
		}
		if first == 0 {
			first = in.ID
		}
	}
	for _, sig := range msg.SignalMessages {
		if sig.IsPullRequest() {
			s.Deps.logger().Warn("pull request ignored", "message_id", sig.MessageID())
			continue
		}
		in, err := s.Deps.storeSignal(ctx, sig, location, contentType)
		if err != nil {
			return msh.StepResult{}, err
		}
		if first == 0 {
			first = in.ID
		}
	}
	if first == 0 {
		return msh.Success(mc), nil
	}
	return msh.Success(mc.WithEntity(entities.TableInMessages, first)), nil
}

func (s *StoreReceivedMessageStep) storeUserMessage(ctx context.Context, mc *msh.MessagingContext, um *ebms.UserMessage, location, contentType string) (*entities.InMessage, error) {
	pm := mc.ReceivingPMode()
	if pm == nil {
		return nil, fmt.Errorf("user message %s has no receiving pmode", um.MessageID())
	}
	snapshot, err := mc.ReceivingPModeString()
	if err != nil {
		return nil, err
	}

	in := &entities.InMessage{Status: entities.InReceived}
	in.Describe(um)
	in.MEP = entities.Push
	in.ContentType = contentType
	in.MessageLocation = location
	in.PModeID = pm.ID
	in.PMode = snapshot
	in.Operation = nextOperation(pm)

	if pm.EliminatesDuplicates() {
		existing, err := s.Deps.Repo.FindInMessages(ctx, um.MessageID())
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			in.IsDuplicate = true
			in.Operation = entities.NotApplicable
			s.Deps.logger().Info("duplicate message eliminated", "message_id", um.MessageID())
		}
	}
	if err := s.Deps.Repo.Insert(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

func nextOperation(pm *pmode.ReceivingProcessingMode) entities.Operation {
	switch {
	case pm.Delivers():
		return entities.ToBeDelivered
	case pm.Forwards():
		return entities.ToBeForwarded
	}
	return entities.NotApplicable
}

// CreateReceiptStep acknowledges received user messages. With the Response
// reply pattern the receipts answer the sender on the same connection; with
// Callback they are stored as out messages for the send agent.
type CreateReceiptStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *CreateReceiptStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	msg := mc.AS4Message()
	if !msg.IsUserMessage() {
		return msh.Success(mc), nil
	}
	reply := ebms.NewAS4Message()
	for _, um := range msg.UserMessages {
		reply.AddMessageUnit(ebms.NewReceipt(um.MessageID()))
	}
	return s.Deps.reply(ctx, mc, reply)
}

// CreateErrorStep answers a message that failed processing with an ebMS
// error built from the context's error result.
type CreateErrorStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *CreateErrorStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	result := mc.ErrorResult()
	if result == nil {
		result = &msh.ErrorResult{Code: ebms.ErrOther, Description: "message processing failed"}
		mc = mc.WithErrorResult(result)
	}

	reply := ebms.NewAS4Message()
	msg := mc.AS4Message()
	if msg.IsEmpty() {
		reply.AddMessageUnit(ebms.NewError("", result.Code, result.Description))
	} else {
		for _, u := range msg.MessageUnits() {
			reply.AddMessageUnit(ebms.NewError(u.MessageID(), result.Code, result.Description))
		}
	}
	return s.Deps.reply(ctx, mc, reply)
}

// reply returns signals to the sender. Callback replies are stored as out
// messages that are ToBeSent with the reply sending P-Mode; others become
// the response of the context and are recorded for audit.
func (d *Deps) reply(ctx context.Context, mc *msh.MessagingContext, reply *ebms.AS4Message) (msh.StepResult, error) {
	pm := mc.ReceivingPMode()
	if pm == nil || pm.Replies() != pmode.ReplyCallback {
		if err := d.storeOutSignals(ctx, reply, nil, entities.NotApplicable); err != nil {
			return msh.StepResult{}, err
		}
		return msh.Success(mc.WithResponse(reply)), nil
	}

	spm, err := d.PModes.SendingPMode(pm.ReplyHandling.SendingPMode)
	if err != nil {
		return msh.StepResult{}, fmt.Errorf("reply pmode of %s: %w", pm.ID, err)
	}
	if err := d.storeOutSignals(ctx, reply, spm, entities.ToBeSent); err != nil {
		return msh.StepResult{}, err
	}
	return msh.Success(mc), nil
}

func (d *Deps) storeOutSignals(ctx context.Context, reply *ebms.AS4Message, pm *pmode.SendingProcessingMode, op entities.Operation) error {
	location, contentType, err := bodystore.SaveMessage(ctx, d.Bodies, d.serializer(), d.OutLocation, reply)
	if err != nil {
		return err
	}
	for _, sig := range reply.SignalMessages {
		out := &entities.OutMessage{Status: entities.OutCreated}
		out.Describe(sig)
		out.MEP = entities.Push
		out.ContentType = contentType
		out.MessageLocation = location
		out.Operation = op
		if pm != nil {
			snapshot, err := pmode.Marshal(pm)
			if err != nil {
				return err
			}
			out.PModeID, out.PMode, out.URL = pm.ID, snapshot, pm.URL()
		}
		if err := d.Repo.Insert(ctx, out); err != nil {
			return err
		}
	}
	return nil
}
