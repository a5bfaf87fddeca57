package exceptions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// Deps are the collaborators of the exception handlers
type Deps struct {
	Repo   storage.Repository
	Bodies bodystore.Store

	// PModes resolves P-Modes of records stored without a snapshot. It may be nil.
	PModes pmode.Source

	// Location is where raw bodies of items without a known message id are kept
	Location string

	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

// failure is what an exception record is built from
type failure struct {
	refID string
	raw   []byte

	pmodeID  string
	snapshot string
	handling *pmode.Notification

	// the record the failed item was about, if any
	table entities.Table
	id    int64
}

func (f *failure) notifies() bool {
	return f.handling != nil && f.handling.Notify
}

func (f *failure) retries() *pmode.RetryReliability {
	if !f.notifies() || f.handling.Reliability == nil || !f.handling.Reliability.Enabled {
		return nil
	}
	return f.handling.Reliability
}

// fromItem describes an item the transformer could not turn into a context
func fromItem(item any) *failure {
	f := &failure{}
	switch e := item.(type) {
	case *msh.ReceivedMessage:
		if data, err := e.Bytes(); err == nil {
			f.raw = data
		}
	case *entities.InMessage:
		f.refID, f.pmodeID, f.snapshot = e.EbmsMessageID, e.PModeID, e.PMode
		f.table, f.id = entities.TableInMessages, e.ID
	case *entities.OutMessage:
		f.refID, f.pmodeID, f.snapshot = e.EbmsMessageID, e.PModeID, e.PMode
		f.table, f.id = entities.TableOutMessages, e.ID
	case *entities.InException:
		f.refID, f.pmodeID, f.snapshot = e.EbmsRefToMessageID, e.PModeID, e.PMode
		f.table, f.id = entities.TableInExceptions, e.ID
	case *entities.OutException:
		f.refID, f.pmodeID, f.snapshot = e.EbmsRefToMessageID, e.PModeID, e.PMode
		f.table, f.id = entities.TableOutExceptions, e.ID
	case *entities.ReceptionAwareness:
		f.refID = e.RefToEbmsMessageID
		f.table, f.id = entities.TableReceptionAwareness, e.ID
	case *entities.RetryReliability:
		f.table, f.id = entities.TableRetryReliability, e.ID
	}
	return f
}

// fromContext describes a context a step failed on
func fromContext(mc *msh.MessagingContext) *failure {
	f := &failure{refID: mc.MessageID()}
	f.table, f.id = mc.Entity()
	if f.refID == "" {
		if rm := mc.ReceivedMessage(); rm != nil {
			if data, err := rm.Bytes(); err == nil {
				f.raw = data
			}
		}
	}
	return f
}

func (d *Deps) withReceiving(f *failure, pm *pmode.ReceivingProcessingMode, snapshot string) {
	if pm == nil {
		return
	}
	if snapshot == "" {
		snapshot, _ = pmode.Marshal(pm)
	}
	f.pmodeID, f.snapshot, f.handling = pm.ID, snapshot, pm.ExceptionHandling
}

func (d *Deps) withSending(f *failure, pm *pmode.SendingProcessingMode) {
	if pm == nil {
		return
	}
	snapshot, _ := pmode.Marshal(pm)
	f.pmodeID, f.snapshot, f.handling = pm.ID, snapshot, pm.ExceptionHandling
}

// resolveReceiving fills in the exception handling of a record's receiving P-Mode
func (d *Deps) resolveReceiving(f *failure) {
	var pm *pmode.ReceivingProcessingMode
	var err error
	switch {
	case f.snapshot != "":
		pm, err = pmode.UnmarshalReceiving(f.snapshot)
	case f.pmodeID != "" && d.PModes != nil:
		pm, err = d.PModes.ReceivingPMode(f.pmodeID)
	default:
		return
	}
	if err != nil {
		d.logger().Warn("receiving pmode of failed item unavailable", "pmode", f.pmodeID, "error", err)
		return
	}
	d.withReceiving(f, pm, f.snapshot)
}

// resolveSending fills in the exception handling of a record's sending P-Mode
func (d *Deps) resolveSending(f *failure) {
	var pm *pmode.SendingProcessingMode
	var err error
	switch {
	case f.snapshot != "":
		pm, err = pmode.UnmarshalSending(f.snapshot)
	case f.pmodeID != "" && d.PModes != nil:
		pm, err = d.PModes.SendingPMode(f.pmodeID)
	default:
		return
	}
	if err != nil {
		d.logger().Warn("sending pmode of failed item unavailable", "pmode", f.pmodeID, "error", err)
		return
	}
	snapshot := f.snapshot
	d.withSending(f, pm)
	if snapshot != "" {
		f.snapshot = snapshot
	}
}

// persist stores an exception record for f in table. Raw bodies are saved
// only when the message id is unknown.
func (d *Deps) persist(ctx context.Context, table entities.Table, f *failure, cause error, op entities.Operation) (int64, error) {
	ex := entities.ExceptionEntity{
		EbmsRefToMessageID: f.refID,
		Exception:          cause.Error(),
		PModeID:            f.pmodeID,
		PMode:              f.snapshot,
		Operation:          op,
	}
	if f.refID == "" && len(f.raw) > 0 {
		location, err := d.Bodies.Save(ctx, d.Location, bytes.NewReader(f.raw))
		if err != nil {
			d.logger().Error("saving body of failed message", "error", err)
		} else {
			ex.MessageLocation = location
		}
	}

	var e entities.Entity
	switch table {
	case entities.TableInExceptions:
		e = &entities.InException{ExceptionEntity: ex}
	case entities.TableOutExceptions:
		e = &entities.OutException{ExceptionEntity: ex}
	default:
		return 0, fmt.Errorf("%s is not an exception table", table)
	}
	if err := d.Repo.Insert(ctx, e); err != nil {
		return 0, fmt.Errorf("storing exception: %w", err)
	}
	return e.GetID(), nil
}

// inProgress lists the operations a record holds while an agent works on it
func inProgress(op entities.Operation) bool {
	switch op {
	case entities.Processing, entities.Sending, entities.Delivering, entities.Forwarding, entities.Notifying:
		return true
	}
	return false
}

// release updates the record a failed item was about. Messages get status
// Exception. A record still claimed by an agent, or any record when
// deadLetter is set, is moved to DeadLettered; reliability records are
// completed so they are not picked up again.
func (d *Deps) release(ctx context.Context, table entities.Table, id int64, deadLetter bool) error {
	if table == "" || id == 0 {
		return nil
	}
	err := storage.Update(ctx, d.Repo, table, id, func(e entities.Entity) error {
		var op entities.Operation
		switch r := e.(type) {
		case *entities.InMessage:
			r.Status = entities.InStatusException
			op = r.Operation
		case *entities.OutMessage:
			r.Status = entities.OutStatusException
			op = r.Operation
		case *entities.InException:
			op = r.Operation
		case *entities.OutException:
			op = r.Operation
		case *entities.ReceptionAwareness:
			r.Status = entities.ReceptionCompleted
		case *entities.RetryReliability:
			r.Status = entities.ReceptionCompleted
		}
		if l, ok := e.(interface{ Lock(string) }); ok && (deadLetter || inProgress(op)) {
			l.Lock(string(entities.DeadLettered))
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// completeRetry stops the retries of a record, if it has a retry record
func (d *Deps) completeRetry(ctx context.Context, table entities.Table, id int64) error {
	rr, err := d.Repo.FindRetryReliability(ctx, table, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return storage.Update(ctx, d.Repo, entities.TableRetryReliability, rr.ID, func(e entities.Entity) error {
		e.(*entities.RetryReliability).Status = entities.ReceptionCompleted
		return nil
	})
}

func itemContext(item any) *msh.MessagingContext {
	mc := msh.NewContext(msh.ModeUnknown)
	if rm, ok := item.(*msh.ReceivedMessage); ok {
		mc = mc.WithReceivedMessage(rm)
	}
	return mc
}
