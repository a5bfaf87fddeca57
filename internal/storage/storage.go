// Package storage defines the repository the MSH agents share.
//
// Agents never call each other. They find work by claiming records whose
// Operation or Status holds a given value, and they hand work on by writing
// the next value. [Repository.Claim] takes each candidate with a single
// conditional update, so when several agent instances poll the same table
// at most one of them wins a record. Later moves of a record go through
// [Update], which writes with [Repository.Transition] only when the record
// still holds the state it was read in.
//
// # Implementations
//
// The gormstore sub-package stores records in SQLite or MySQL, the mongodb
// sub-package in MongoDB.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-msh/internal/entities"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// ErrInvalidClaim is returned for claim queries on unknown fields
var ErrInvalidClaim = errors.New("invalid claim query")

// Claimable fields
const (
	FieldOperation = "operation"
	FieldStatus    = "status"
)

// Repository is the durable store of messages, exceptions and retry records.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Insert stores a new record and assigns its id
	Insert(ctx context.Context, e entities.Entity) error

	// Get loads the record with the given id into e
	Get(ctx context.Context, id int64, e entities.Entity) error

	// Save replaces a stored record
	Save(ctx context.Context, e entities.Entity) error

	// Claim moves up to Limit records, oldest first, from Value to LockTo
	// and returns the ids this caller won.
	Claim(ctx context.Context, q ClaimQuery) ([]int64, error)

	// Transition writes to when the record still holds every field of from
	// and reports false when another writer changed it first.
	Transition(ctx context.Context, table entities.Table, id int64, from, to State) (bool, error)

	// FindInMessages returns received units with the given ebMS message id
	FindInMessages(ctx context.Context, ebmsMessageID string) ([]*entities.InMessage, error)

	// FindOutMessages returns sent units with the given ebMS message id
	FindOutMessages(ctx context.Context, ebmsMessageID string) ([]*entities.OutMessage, error)

	// FindReceptionAwareness returns the record tracking an out message
	FindReceptionAwareness(ctx context.Context, outMessageID int64) (*entities.ReceptionAwareness, error)

	// FindRetryReliability returns the retry record referring to a record
	FindRetryReliability(ctx context.Context, table entities.Table, id int64) (*entities.RetryReliability, error)

	// CleanUp deletes messages and exceptions inserted before cutoff whose
	// Operation is one of ops, together with the reception awareness and
	// retry records referring to them.
	CleanUp(ctx context.Context, cutoff time.Time, ops []entities.Operation) (*CleanUpResult, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases storage resources
	Close(ctx context.Context) error
}

// ClaimQuery selects records to claim
type ClaimQuery struct {
	Table  entities.Table
	Field  string
	Value  string
	LockTo string
	Limit  int
}

// Validate checks the query. A query whose LockTo is an Operation sentinel
// is valid but claims nothing; see NoOp.
func (q ClaimQuery) Validate() error {
	if _, err := entities.New(q.Table); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
	if q.Field != FieldOperation && q.Field != FieldStatus {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidClaim, q.Field)
	}
	if q.Value == "" || q.LockTo == "" {
		return fmt.Errorf("%w: value and lock value are required", ErrInvalidClaim)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidClaim)
	}
	return nil
}

// NoOp reports whether the claim would lock records to an Operation
// sentinel, which is never applied.
func (q ClaimQuery) NoOp() bool {
	return q.Field == FieldOperation && entities.ParseOperation(q.LockTo).IsSentinel()
}

// LockValue returns LockTo in the canonical spelling of the field
func (q ClaimQuery) LockValue() string {
	if q.Field == FieldOperation {
		return string(entities.ParseOperation(q.LockTo))
	}
	return q.LockTo
}

// CleanUpResult reports what a clean-up pass removed
type CleanUpResult struct {
	Deleted map[entities.Table]int64

	// Locations are the stored bodies of deleted records
	Locations []string
}

// Total returns the number of deleted records
func (r *CleanUpResult) Total() int64 {
	var n int64
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// OperationStrings converts operations for use in queries
func OperationStrings(ops []entities.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}
