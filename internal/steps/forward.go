package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
)

// CreateForwardMessageStep copies a received user message into an out
// message that the send agent pushes to the next MSH with the forward
// sending P-Mode. Running it again for the same record does not create a
// second out message.
type CreateForwardMessageStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *CreateForwardMessageStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	msg := mc.AS4Message()
	rpm := mc.ReceivingPMode()
	table, id := mc.Entity()
	um := msg.FirstUserMessage()
	if um == nil || rpm == nil || table != entities.TableInMessages {
		return msh.StepResult{}, errors.New("context has no received user message to forward")
	}
	if !rpm.Forwards() {
		return msh.StepResult{}, fmt.Errorf("pmode %s does not forward", rpm.ID)
	}
	pm, err := s.Deps.PModes.SendingPMode(rpm.MessageHandling.Forward.SendingPMode)
	if err != nil {
		return msh.StepResult{}, fmt.Errorf("forward pmode of %s: %w", rpm.ID, err)
	}

	existing, err := s.Deps.Repo.FindOutMessages(ctx, um.MessageID())
	if err != nil {
		return msh.StepResult{}, err
	}
	var out *entities.OutMessage
	for _, e := range existing {
		if e.PModeID == pm.ID {
			out = e
			break
		}
	}

	if out == nil {
		mc = mc.WithSendingPMode(pm)
		snapshot, err := mc.SendingPModeString()
		if err != nil {
			return msh.StepResult{}, err
		}
		location, contentType, err := bodystore.SaveMessage(ctx, s.Deps.Bodies, s.Deps.serializer(), s.Deps.OutLocation, msg)
		if err != nil {
			return msh.StepResult{}, err
		}
		out = &entities.OutMessage{Status: entities.OutCreated, URL: pm.URL()}
		out.Describe(um)
		out.MEP = entities.MEP(pm.Binding())
		out.ContentType = contentType
		out.MessageLocation = location
		out.PModeID = pm.ID
		out.PMode = snapshot
		out.Operation = entities.ToBeSent
		if err := s.Deps.Repo.Insert(ctx, out); err != nil {
			return msh.StepResult{}, err
		}
	}

	if err := s.Deps.lock(ctx, table, id, entities.Forwarded); err != nil {
		return msh.StepResult{}, err
	}
	s.Deps.logger().Info("message forwarded", "message_id", um.MessageID(), "pmode", pm.ID, "out_message", out.ID)
	return msh.Success(mc), nil
}
