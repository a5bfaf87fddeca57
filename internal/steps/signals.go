package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// storeSignal records a received receipt or error. The out message it
// refers to is marked Ack or Nack, its reception awareness completed, and
// the signal is queued for notification when the sending P-Mode asks for it.
// A signal that was already stored is kept as a duplicate without effects.
func (d *Deps) storeSignal(ctx context.Context, sig *ebms.SignalMessage, location, contentType string) (*entities.InMessage, error) {
	in := &entities.InMessage{Status: entities.InReceived}
	in.Describe(sig)
	in.MEP = entities.Push
	in.ContentType = contentType
	in.MessageLocation = location
	in.Operation = entities.NotApplicable

	existing, err := d.Repo.FindInMessages(ctx, sig.MessageID())
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		in.IsDuplicate = true
		if err := d.Repo.Insert(ctx, in); err != nil {
			return nil, err
		}
		d.logger().Info("duplicate signal ignored", "message_id", in.EbmsMessageID)
		return in, nil
	}

	refs, err := d.Repo.FindOutMessages(ctx, sig.RefToMessageID())
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		if err := d.Repo.Insert(ctx, in); err != nil {
			return nil, err
		}
		d.logger().Warn("signal refers to unknown message", "message_id", in.EbmsMessageID, "ref_to_message_id", in.EbmsRefToMessageID)
		return in, nil
	}

	out := refs[0]
	in.PModeID, in.PMode = out.PModeID, out.PMode
	pm, err := d.sendingPMode(out.PMode, out.PModeID)
	if err != nil {
		d.logger().Warn("sending pmode of referenced message unavailable", "message_id", in.EbmsMessageID, "error", err)
	}
	if notifiesSignal(pm, sig) {
		in.Operation = entities.ToBeNotified
	}
	if err := d.Repo.Insert(ctx, in); err != nil {
		return nil, err
	}

	for _, ref := range refs {
		if err := d.acknowledge(ctx, ref, sig.IsError()); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func notifiesSignal(pm *pmode.SendingProcessingMode, sig *ebms.SignalMessage) bool {
	if sig.IsError() {
		return pm.NotifiesErrors()
	}
	return pm.NotifiesReceipts()
}

// acknowledge marks an out message Ack or Nack and completes its reception
// awareness record. Only the status is written, so an agent moving the
// message at the same time keeps its Operation.
func (d *Deps) acknowledge(ctx context.Context, out *entities.OutMessage, nack bool) error {
	status := entities.OutAck
	if nack {
		status = entities.OutNack
	}
	err := d.update(ctx, entities.TableOutMessages, out.ID, func(e entities.Entity) error {
		e.(*entities.OutMessage).Status = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("acknowledging out message %d: %w", out.ID, err)
	}
	out.Status = status

	ra, err := d.Repo.FindReceptionAwareness(ctx, out.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return complete(ctx, d.Repo, entities.TableReceptionAwareness, ra.ID)
}
