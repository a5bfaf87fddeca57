package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/senders"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/pkg/compression"
	"github.com/sirosfoundation/go-msh/pkg/discovery"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
	"github.com/sirosfoundation/go-msh/pkg/transport"
)

// Deps are the collaborators shared by the steps of all agents
type Deps struct {
	Repo       storage.Repository
	Bodies     bodystore.Store
	Serializer ebms.Serializer
	PModes     pmode.Source
	Selector   *pmode.Selector
	Senders    *senders.Registry
	Clients    *transport.Pool
	Compressor *compression.Compressor
	Discovery  *discovery.Client

	// InLocation and OutLocation are the base locations received and
	// outbound message bodies are saved under.
	InLocation  string
	OutLocation string

	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) serializer() ebms.Serializer {
	if d.Serializer == nil {
		return ebms.MIMESerializer{}
	}
	return d.Serializer
}

func (d *Deps) selector() *pmode.Selector {
	if d.Selector == nil {
		return pmode.NewSelector()
	}
	return d.Selector
}

func (d *Deps) compressor() *compression.Compressor {
	if d.Compressor == nil {
		return compression.Default()
	}
	return d.Compressor
}

var defaultDiscovery = discovery.NewClient(nil)

func (d *Deps) discovery() *discovery.Client {
	if d.Discovery == nil {
		return defaultDiscovery
	}
	return d.Discovery
}

var defaultClients = transport.NewPool()

func (d *Deps) clients() *transport.Pool {
	if d.Clients == nil {
		return defaultClients
	}
	return d.Clients
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

type locker interface {
	Lock(value string)
}

// update moves the Operation or Status of a record. fn sees a fresh copy and
// runs again if another writer moved the record before the write.
func (d *Deps) update(ctx context.Context, table entities.Table, id int64, fn func(entities.Entity) error) error {
	return storage.Update(ctx, d.Repo, table, id, fn)
}

// rewrite loads a record the caller has claimed, applies fn and saves it whole
func (d *Deps) rewrite(ctx context.Context, table entities.Table, id int64, fn func(entities.Entity) error) error {
	e, err := entities.New(table)
	if err != nil {
		return err
	}
	if err := d.Repo.Get(ctx, id, e); err != nil {
		return err
	}
	if err := fn(e); err != nil {
		return err
	}
	return d.Repo.Save(ctx, e)
}

// lock moves a message or exception record to op
func (d *Deps) lock(ctx context.Context, table entities.Table, id int64, op entities.Operation) error {
	return d.update(ctx, table, id, func(e entities.Entity) error {
		l, ok := e.(locker)
		if !ok {
			return fmt.Errorf("%s records have no operation", table)
		}
		l.Lock(string(op))
		return nil
	})
}

// markException sets the status of a message record to Exception. It is a
// no-op for exception records.
func markException(e entities.Entity) {
	switch m := e.(type) {
	case *entities.InMessage:
		m.Status = entities.InStatusException
	case *entities.OutMessage:
		m.Status = entities.OutStatusException
	}
}

// deadLetter moves a record to DeadLettered and marks messages Exception
func (d *Deps) deadLetter(ctx context.Context, table entities.Table, id int64) error {
	return d.update(ctx, table, id, func(e entities.Entity) error {
		if l, ok := e.(locker); ok {
			l.Lock(string(entities.DeadLettered))
		}
		markException(e)
		return nil
	})
}

// scheduleRetry makes sure a pending retry record refers to the target and
// moves the target to ToBeRetried.
func (d *Deps) scheduleRetry(ctx context.Context, table entities.Table, id int64, kind entities.RetryType, rel *pmode.RetryReliability) error {
	rr, err := d.Repo.FindRetryReliability(ctx, table, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rr = &entities.RetryReliability{
			RetryType:     kind,
			Status:        entities.ReceptionPending,
			MaxRetryCount: rel.RetryCount,
			RetryInterval: rel.RetryInterval,
			LastRetryTime: d.now(),
		}
		setRetryTarget(rr, table, id)
		if err := d.Repo.Insert(ctx, rr); err != nil {
			return fmt.Errorf("inserting retry record: %w", err)
		}
	case err != nil:
		return err
	default:
		rr.Status = entities.ReceptionPending
		rr.LastRetryTime = d.now()
		if err := d.Repo.Save(ctx, rr); err != nil {
			return fmt.Errorf("saving retry record: %w", err)
		}
	}
	return d.lock(ctx, table, id, entities.ToBeRetried)
}

func setRetryTarget(rr *entities.RetryReliability, table entities.Table, id int64) {
	switch table {
	case entities.TableInMessages:
		rr.RefToInMessageID = id
	case entities.TableOutMessages:
		rr.RefToOutMessageID = id
	case entities.TableInExceptions:
		rr.RefToInExceptionID = id
	case entities.TableOutExceptions:
		rr.RefToOutExceptionID = id
	}
}

// completeRetry marks the retry record of a target Completed, if there is one
func (d *Deps) completeRetry(ctx context.Context, table entities.Table, id int64) error {
	rr, err := d.Repo.FindRetryReliability(ctx, table, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return complete(ctx, d.Repo, entities.TableRetryReliability, rr.ID)
}

// complete moves a reception awareness or retry record to Completed
func complete(ctx context.Context, repo storage.Repository, table entities.Table, id int64) error {
	return storage.Update(ctx, repo, table, id, func(e entities.Entity) error {
		switch r := e.(type) {
		case *entities.ReceptionAwareness:
			r.Status = entities.ReceptionCompleted
		case *entities.RetryReliability:
			r.Status = entities.ReceptionCompleted
		}
		return nil
	})
}

// sendingPMode decodes the snapshot stored with a record, falling back to
// the configured P-Mode with the given id.
func (d *Deps) sendingPMode(snapshot, id string) (*pmode.SendingProcessingMode, error) {
	if snapshot != "" {
		return pmode.UnmarshalSending(snapshot)
	}
	if id == "" || d.PModes == nil {
		return nil, fmt.Errorf("%w: %q", pmode.ErrPModeNotFound, id)
	}
	return d.PModes.SendingPMode(id)
}

func operationOf(e entities.Entity) entities.Operation {
	switch m := e.(type) {
	case *entities.InMessage:
		return m.Operation
	case *entities.OutMessage:
		return m.Operation
	case *entities.InException:
		return m.Operation
	case *entities.OutException:
		return m.Operation
	}
	return entities.NotApplicable
}
