// Package gormstore implements storage.Repository on a relational database
// through gorm. SQLite and MySQL are supported.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/storage"
)

// Drivers
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// maxInList bounds the number of ids bound in one IN clause
const maxInList = 500

// Repository implements storage.Repository using gorm
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database and migrates the schema
func Open(driver, dsn string) (*Repository, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection keeps an in-memory database shared and serializes writers
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("gormstore: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an open gorm connection and migrates the schema
func New(db *gorm.DB) (*Repository, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate creates or updates every table
func Migrate(db *gorm.DB) error {
	for _, table := range entities.Tables() {
		model, _ := entities.New(table)
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("gormstore: migrate %s: %w", table, err)
		}
	}
	return nil
}

// Insert implements storage.Repository
func (r *Repository) Insert(ctx context.Context, e entities.Entity) error {
	e.Stamp(r.now())
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("gormstore: insert %s: %w", e.TableName(), err)
	}
	return nil
}

// Get implements storage.Repository
func (r *Repository) Get(ctx context.Context, id int64, e entities.Entity) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", e.TableName(), id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("gormstore: get %s %d: %w", e.TableName(), id, err)
	}
	return nil
}

// Save implements storage.Repository
func (r *Repository) Save(ctx context.Context, e entities.Entity) error {
	if e.GetID() == 0 {
		return fmt.Errorf("gormstore: save %s: record has no id", e.TableName())
	}
	e.Stamp(r.now())
	if err := r.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("gormstore: save %s %d: %w", e.TableName(), e.GetID(), err)
	}
	return nil
}

// Claim implements storage.Repository. Candidates are read oldest first and
// each is taken with UPDATE ... WHERE id = ? AND field = value, so a record
// another poller moved in the meantime is skipped.
func (r *Repository) Claim(ctx context.Context, q storage.ClaimQuery) ([]int64, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.NoOp() {
		return nil, nil
	}
	model, _ := entities.New(q.Table)
	db := r.db.WithContext(ctx)

	var candidates []int64
	err := db.Model(model).
		Where(q.Field+" = ?", q.Value).
		Order("insertion_time ASC, id ASC").
		Limit(q.Limit).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: find claimable %s: %w", q.Table, err)
	}

	lockTo := q.LockValue()
	claimed := make([]int64, 0, len(candidates))
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return claimed, err
		}
		res := db.Model(model).
			Where("id = ? AND "+q.Field+" = ?", id, q.Value).
			Updates(map[string]any{
				q.Field:             lockTo,
				"modification_time": r.now(),
			})
		if res.Error != nil {
			return claimed, fmt.Errorf("gormstore: claim %s %d: %w", q.Table, id, res.Error)
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// Transition implements storage.Repository with UPDATE ... WHERE id = ? and
// one condition per field of from.
func (r *Repository) Transition(ctx context.Context, table entities.Table, id int64, from, to storage.State) (bool, error) {
	if err := storage.ValidateTransition(table, from, to); err != nil {
		return false, err
	}
	model, _ := entities.New(table)
	q := r.db.WithContext(ctx).Model(model).Where("id = ?", id)
	if from.Operation != "" {
		q = q.Where(storage.FieldOperation+" = ?", string(from.Operation))
	}
	if from.Status != "" {
		q = q.Where(storage.FieldStatus+" = ?", from.Status)
	}
	set := map[string]any{"modification_time": r.now()}
	for field, value := range to.Fields() {
		set[field] = value
	}
	res := q.Updates(set)
	if res.Error != nil {
		return false, fmt.Errorf("gormstore: transition %s %d: %w", table, id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindInMessages implements storage.Repository
func (r *Repository) FindInMessages(ctx context.Context, ebmsMessageID string) ([]*entities.InMessage, error) {
	var out []*entities.InMessage
	err := r.db.WithContext(ctx).
		Where("ebms_message_id = ?", ebmsMessageID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: find in messages: %w", err)
	}
	return out, nil
}

// FindOutMessages implements storage.Repository
func (r *Repository) FindOutMessages(ctx context.Context, ebmsMessageID string) ([]*entities.OutMessage, error) {
	var out []*entities.OutMessage
	err := r.db.WithContext(ctx).
		Where("ebms_message_id = ?", ebmsMessageID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: find out messages: %w", err)
	}
	return out, nil
}

// FindReceptionAwareness implements storage.Repository
func (r *Repository) FindReceptionAwareness(ctx context.Context, outMessageID int64) (*entities.ReceptionAwareness, error) {
	var ra entities.ReceptionAwareness
	err := r.db.WithContext(ctx).
		Where("ref_to_out_message_id = ?", outMessageID).
		Order("id DESC").
		Take(&ra).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("reception awareness for out message %d: %w", outMessageID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: find reception awareness: %w", err)
	}
	return &ra, nil
}

// FindRetryReliability implements storage.Repository
func (r *Repository) FindRetryReliability(ctx context.Context, table entities.Table, id int64) (*entities.RetryReliability, error) {
	column, err := retryColumn(table)
	if err != nil {
		return nil, err
	}
	var rr entities.RetryReliability
	err = r.db.WithContext(ctx).
		Where(column+" = ?", id).
		Order("id DESC").
		Take(&rr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("retry reliability for %s %d: %w", table, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: find retry reliability: %w", err)
	}
	return &rr, nil
}

func retryColumn(table entities.Table) (string, error) {
	switch table {
	case entities.TableInMessages:
		return "ref_to_in_message_id", nil
	case entities.TableOutMessages:
		return "ref_to_out_message_id", nil
	case entities.TableInExceptions:
		return "ref_to_in_exception_id", nil
	case entities.TableOutExceptions:
		return "ref_to_out_exception_id", nil
	}
	return "", fmt.Errorf("gormstore: no retry records for %s", table)
}

type cleanable struct {
	ID              int64
	MessageLocation string
}

// CleanUp implements storage.Repository
func (r *Repository) CleanUp(ctx context.Context, cutoff time.Time, ops []entities.Operation) (*storage.CleanUpResult, error) {
	result := &storage.CleanUpResult{Deleted: make(map[entities.Table]int64)}
	if len(ops) == 0 {
		return result, nil
	}
	opValues := storage.OperationStrings(ops)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted := make(map[entities.Table][]int64)
		for _, table := range []entities.Table{
			entities.TableInMessages, entities.TableOutMessages,
			entities.TableInExceptions, entities.TableOutExceptions,
		} {
			var rows []cleanable
			err := tx.Table(string(table)).
				Select("id, message_location").
				Where("insertion_time < ? AND operation IN ?", cutoff, opValues).
				Scan(&rows).Error
			if err != nil {
				return fmt.Errorf("gormstore: select expired %s: %w", table, err)
			}
			ids := make([]int64, 0, len(rows))
			for _, row := range rows {
				ids = append(ids, row.ID)
				if row.MessageLocation != "" {
					result.Locations = append(result.Locations, row.MessageLocation)
				}
			}
			n, err := deleteWhereIn(tx, table, "id", ids)
			if err != nil {
				return err
			}
			deleted[table] = ids
			result.Deleted[table] = n
		}

		n, err := deleteWhereIn(tx, entities.TableReceptionAwareness, "ref_to_out_message_id", deleted[entities.TableOutMessages])
		if err != nil {
			return err
		}
		result.Deleted[entities.TableReceptionAwareness] = n

		for table, ids := range deleted {
			column, _ := retryColumn(table)
			n, err := deleteWhereIn(tx, entities.TableRetryReliability, column, ids)
			if err != nil {
				return err
			}
			result.Deleted[entities.TableRetryReliability] += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func deleteWhereIn(tx *gorm.DB, table entities.Table, column string, ids []int64) (int64, error) {
	model, _ := entities.New(table)
	var total int64
	for start := 0; start < len(ids); start += maxInList {
		end := min(start+maxInList, len(ids))
		res := tx.Where(column+" IN ?", ids[start:end]).Delete(model)
		if res.Error != nil {
			return total, fmt.Errorf("gormstore: delete from %s: %w", table, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

// Ping implements storage.Repository
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements storage.Repository
func (r *Repository) Close(_ context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ storage.Repository = (*Repository)(nil)
