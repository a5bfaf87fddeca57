package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/entities"
)

// ErrConflict is returned by Update when the record kept changing under it
var ErrConflict = errors.New("record changed concurrently")

// ErrInvalidTransition is returned for transitions naming a field the table
// does not have
var ErrInvalidTransition = errors.New("invalid transition")

// maxUpdateAttempts bounds the re-read loop of Update
const maxUpdateAttempts = 8

// State holds the coordination fields of a record. An empty field is
// neither compared nor written.
type State struct {
	Operation entities.Operation
	Status    string
}

// IsZero reports whether s names no field
func (s State) IsZero() bool {
	return s.Operation == "" && s.Status == ""
}

// Fields returns the non-empty fields keyed by column name
func (s State) Fields() map[string]string {
	f := make(map[string]string, 2)
	if s.Operation != "" {
		f[FieldOperation] = string(s.Operation)
	}
	if s.Status != "" {
		f[FieldStatus] = s.Status
	}
	return f
}

// changed returns the fields of s that differ from prev
func (s State) changed(prev State) State {
	var d State
	if s.Operation != prev.Operation {
		d.Operation = s.Operation
	}
	if s.Status != prev.Status {
		d.Status = s.Status
	}
	return d
}

// StateOf returns the coordination fields of a record
func StateOf(e entities.Entity) State {
	switch r := e.(type) {
	case *entities.InMessage:
		return State{Operation: r.Operation, Status: string(r.Status)}
	case *entities.OutMessage:
		return State{Operation: r.Operation, Status: string(r.Status)}
	case *entities.InException:
		return State{Operation: r.Operation}
	case *entities.OutException:
		return State{Operation: r.Operation}
	case *entities.ReceptionAwareness:
		return State{Status: string(r.Status)}
	case *entities.RetryReliability:
		return State{Status: string(r.Status)}
	}
	return State{}
}

// ValidateTransition checks that from and to only name fields of table and
// that to writes something.
func ValidateTransition(table entities.Table, from, to State) error {
	if _, err := entities.New(table); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if to.IsZero() {
		return fmt.Errorf("%w: nothing to write", ErrInvalidTransition)
	}
	hasOperation, hasStatus := true, true
	switch table {
	case entities.TableInExceptions, entities.TableOutExceptions:
		hasStatus = false
	case entities.TableReceptionAwareness, entities.TableRetryReliability:
		hasOperation = false
	}
	if !hasOperation && (from.Operation != "" || to.Operation != "") {
		return fmt.Errorf("%w: %s has no operation", ErrInvalidTransition, table)
	}
	if !hasStatus && (from.Status != "" || to.Status != "") {
		return fmt.Errorf("%w: %s has no status", ErrInvalidTransition, table)
	}
	return nil
}

// Update reads a record, lets change modify it and writes the coordination
// fields change altered with a single Transition from the state it read.
// When another writer moved the record in between, the record is read again
// and change runs again on the fresh copy. Fields other than Operation and
// Status are not written. A change that alters nothing writes nothing.
func Update(ctx context.Context, repo Repository, table entities.Table, id int64, change func(entities.Entity) error) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		e, err := entities.New(table)
		if err != nil {
			return err
		}
		if err := repo.Get(ctx, id, e); err != nil {
			return err
		}
		from := StateOf(e)
		if err := change(e); err != nil {
			return err
		}
		to := StateOf(e).changed(from)
		if to.IsZero() {
			return nil
		}
		won, err := repo.Transition(ctx, table, id, from, to)
		if err != nil {
			return err
		}
		if won {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s %d: %w", table, id, ErrConflict)
}
