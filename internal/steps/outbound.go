package steps

import (
	"context"
	"errors"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/compression"
)

// CompressAttachmentsStep gzips the payloads of messages whose sending
// P-Mode asks for AS4 compression and writes the result back to the stored
// body.
type CompressAttachmentsStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *CompressAttachmentsStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	pm := mc.SendingPMode()
	msg := mc.AS4Message()
	if pm == nil || !pm.MessagePackaging.UseAS4Compression || msg == nil || len(msg.Attachments) == 0 {
		return msh.Success(mc), nil
	}

	c := s.Deps.compressor()
	changed := false
	for _, a := range msg.Attachments {
		if a.IsCompressed() || !compression.ShouldCompress(a.ContentType) {
			continue
		}
		if err := c.CompressAttachment(a); err != nil {
			return msh.StepResult{}, err
		}
		changed = true
	}
	if !changed {
		return msh.Success(mc), nil
	}
	msg.RefreshPartInfo()

	table, id := mc.Entity()
	if table != entities.TableOutMessages {
		return msh.Success(mc), nil
	}
	err := s.Deps.rewrite(ctx, table, id, func(e entities.Entity) error {
		out := e.(*entities.OutMessage)
		contentType, err := bodystore.UpdateMessage(ctx, s.Deps.Bodies, s.Deps.serializer(), out.MessageLocation, msg)
		if err != nil {
			return err
		}
		out.ContentType = contentType
		return nil
	})
	if err != nil {
		return msh.StepResult{}, err
	}
	return msh.Success(mc), nil
}

// SetMessageToBeSentStep hands a processed out message to the send agent
type SetMessageToBeSentStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *SetMessageToBeSentStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	table, id := mc.Entity()
	if table != entities.TableOutMessages || id == 0 {
		return msh.StepResult{}, errors.New("context does not reference an out message")
	}
	if err := s.Deps.lock(ctx, table, id, entities.ToBeSent); err != nil {
		return msh.StepResult{}, err
	}
	return msh.Success(mc), nil
}
