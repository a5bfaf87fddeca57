// Package mongodb implements storage.Repository using MongoDB, and a
// message body store on GridFS.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/storage"
)

// Store implements storage.Repository using MongoDB
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	gridfs   *gridfs.Bucket
	counters *mongo.Collection
	now      func() time.Time
}

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	GridFSBucket   string
	ChunkSizeBytes int32
}

// NewStore connects to MongoDB and creates the indexes
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	bucketName := cfg.GridFSBucket
	if bucketName == "" {
		bucketName = "bodies"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	s := &Store{
		client:   client,
		db:       db,
		gridfs:   bucket,
		counters: db.Collection("counters"),
		now:      func() time.Time { return time.Now().UTC() },
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	for _, table := range []entities.Table{
		entities.TableInMessages, entities.TableOutMessages,
	} {
		_, err := s.collection(table).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "ebms_message_id", Value: 1}}},
			{Keys: bson.D{{Key: "operation", Value: 1}, {Key: "insertion_time", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "insertion_time", Value: 1}}},
		})
		if err != nil {
			return fmt.Errorf("creating %s indexes: %w", table, err)
		}
	}

	for _, table := range []entities.Table{
		entities.TableInExceptions, entities.TableOutExceptions,
	} {
		_, err := s.collection(table).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "operation", Value: 1}, {Key: "insertion_time", Value: 1}}},
		})
		if err != nil {
			return fmt.Errorf("creating %s indexes: %w", table, err)
		}
	}

	_, err := s.collection(entities.TableReceptionAwareness).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ref_to_out_message_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "insertion_time", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating reception awareness indexes: %w", err)
	}

	_, err = s.collection(entities.TableRetryReliability).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "insertion_time", Value: 1}}},
		{Keys: bson.D{{Key: "ref_to_in_message_id", Value: 1}}},
		{Keys: bson.D{{Key: "ref_to_out_message_id", Value: 1}}},
		{Keys: bson.D{{Key: "ref_to_in_exception_id", Value: 1}}},
		{Keys: bson.D{{Key: "ref_to_out_exception_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating retry reliability indexes: %w", err)
	}

	return nil
}

func (s *Store) collection(table entities.Table) *mongo.Collection {
	return s.db.Collection(string(table))
}

// nextID returns the next sequence value of a table's counter
func (s *Store) nextID(ctx context.Context, table entities.Table) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": string(table)},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("allocating %s id: %w", table, err)
	}
	return doc.Seq, nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Insert implements storage.Repository
func (s *Store) Insert(ctx context.Context, e entities.Entity) error {
	table := entities.Table(e.TableName())
	id, err := s.nextID(ctx, table)
	if err != nil {
		return err
	}
	e.SetID(id)
	e.Stamp(s.now())

	if _, err := s.collection(table).InsertOne(ctx, e); err != nil {
		return fmt.Errorf("inserting %s: %w", table, err)
	}
	return nil
}

// Get implements storage.Repository
func (s *Store) Get(ctx context.Context, id int64, e entities.Entity) error {
	err := s.collection(entities.Table(e.TableName())).FindOne(ctx, bson.M{"_id": id}).Decode(e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %d: %w", e.TableName(), id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("getting %s %d: %w", e.TableName(), id, err)
	}
	return nil
}

// Save implements storage.Repository
func (s *Store) Save(ctx context.Context, e entities.Entity) error {
	if e.GetID() == 0 {
		return fmt.Errorf("saving %s: record has no id", e.TableName())
	}
	e.Stamp(s.now())
	res, err := s.collection(entities.Table(e.TableName())).ReplaceOne(ctx, bson.M{"_id": e.GetID()}, e)
	if err != nil {
		return fmt.Errorf("saving %s %d: %w", e.TableName(), e.GetID(), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %d: %w", e.TableName(), e.GetID(), storage.ErrNotFound)
	}
	return nil
}

// Claim implements storage.Repository. Each candidate is taken with an
// UpdateOne filtered on both id and the expected field value.
func (s *Store) Claim(ctx context.Context, q storage.ClaimQuery) ([]int64, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.NoOp() {
		return nil, nil
	}
	coll := s.collection(q.Table)

	opts := options.Find().
		SetSort(bson.D{{Key: "insertion_time", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(q.Limit)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := coll.Find(ctx, bson.M{q.Field: q.Value}, opts)
	if err != nil {
		return nil, fmt.Errorf("finding claimable %s: %w", q.Table, err)
	}
	var candidates []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("reading claimable %s: %w", q.Table, err)
	}

	lockTo := q.LockValue()
	claimed := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		res, err := coll.UpdateOne(ctx,
			bson.M{"_id": c.ID, q.Field: q.Value},
			bson.M{"$set": bson.M{q.Field: lockTo, "modification_time": s.now()}},
		)
		if err != nil {
			return claimed, fmt.Errorf("claiming %s %d: %w", q.Table, c.ID, err)
		}
		if res.ModifiedCount == 1 {
			claimed = append(claimed, c.ID)
		}
	}
	return claimed, nil
}

// Transition implements storage.Repository with an UpdateOne filtered on the
// id and every field of from.
func (s *Store) Transition(ctx context.Context, table entities.Table, id int64, from, to storage.State) (bool, error) {
	if err := storage.ValidateTransition(table, from, to); err != nil {
		return false, err
	}
	filter := bson.M{"_id": id}
	for field, value := range from.Fields() {
		filter[field] = value
	}
	set := bson.M{"modification_time": s.now()}
	for field, value := range to.Fields() {
		set[field] = value
	}
	res, err := s.collection(table).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("transitioning %s %d: %w", table, id, err)
	}
	return res.MatchedCount == 1, nil
}

// FindInMessages implements storage.Repository
func (s *Store) FindInMessages(ctx context.Context, ebmsMessageID string) ([]*entities.InMessage, error) {
	var out []*entities.InMessage
	if err := s.findAll(ctx, entities.TableInMessages, bson.M{"ebms_message_id": ebmsMessageID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindOutMessages implements storage.Repository
func (s *Store) FindOutMessages(ctx context.Context, ebmsMessageID string) ([]*entities.OutMessage, error) {
	var out []*entities.OutMessage
	if err := s.findAll(ctx, entities.TableOutMessages, bson.M{"ebms_message_id": ebmsMessageID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) findAll(ctx context.Context, table entities.Table, filter bson.M, out any) error {
	cursor, err := s.collection(table).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("finding %s: %w", table, err)
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("reading %s: %w", table, err)
	}
	return nil
}

// FindReceptionAwareness implements storage.Repository
func (s *Store) FindReceptionAwareness(ctx context.Context, outMessageID int64) (*entities.ReceptionAwareness, error) {
	var ra entities.ReceptionAwareness
	err := s.collection(entities.TableReceptionAwareness).FindOne(ctx,
		bson.M{"ref_to_out_message_id": outMessageID},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&ra)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("reception awareness for out message %d: %w", outMessageID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding reception awareness: %w", err)
	}
	return &ra, nil
}

// FindRetryReliability implements storage.Repository
func (s *Store) FindRetryReliability(ctx context.Context, table entities.Table, id int64) (*entities.RetryReliability, error) {
	field, err := retryField(table)
	if err != nil {
		return nil, err
	}
	var rr entities.RetryReliability
	err = s.collection(entities.TableRetryReliability).FindOne(ctx,
		bson.M{field: id},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&rr)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("retry reliability for %s %d: %w", table, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding retry reliability: %w", err)
	}
	return &rr, nil
}

func retryField(table entities.Table) (string, error) {
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
	return "", fmt.Errorf("no retry records for %s", table)
}

// CleanUp implements storage.Repository. Collections are cleaned one after
// the other without a transaction; a record is only removed once it is in
// a terminal state, so a partial pass is completed by the next one.
func (s *Store) CleanUp(ctx context.Context, cutoff time.Time, ops []entities.Operation) (*storage.CleanUpResult, error) {
	result := &storage.CleanUpResult{Deleted: make(map[entities.Table]int64)}
	if len(ops) == 0 {
		return result, nil
	}
	filter := bson.M{
		"insertion_time": bson.M{"$lt": cutoff},
		"operation":      bson.M{"$in": storage.OperationStrings(ops)},
	}

	deleted := make(map[entities.Table][]int64)
	for _, table := range []entities.Table{
		entities.TableInMessages, entities.TableOutMessages,
		entities.TableInExceptions, entities.TableOutExceptions,
	} {
		var rows []struct {
			ID              int64  `bson:"_id"`
			MessageLocation string `bson:"message_location"`
		}
		opts := options.Find().SetProjection(bson.M{"_id": 1, "message_location": 1})
		if err := s.findAllWith(ctx, table, filter, opts, &rows); err != nil {
			return result, err
		}
		if len(rows) == 0 {
			continue
		}
		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			if row.MessageLocation != "" {
				result.Locations = append(result.Locations, row.MessageLocation)
			}
		}
		res, err := s.collection(table).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return result, fmt.Errorf("deleting expired %s: %w", table, err)
		}
		deleted[table] = ids
		result.Deleted[table] = res.DeletedCount
	}

	if ids := deleted[entities.TableOutMessages]; len(ids) > 0 {
		res, err := s.collection(entities.TableReceptionAwareness).DeleteMany(ctx,
			bson.M{"ref_to_out_message_id": bson.M{"$in": ids}})
		if err != nil {
			return result, fmt.Errorf("deleting reception awareness: %w", err)
		}
		result.Deleted[entities.TableReceptionAwareness] = res.DeletedCount
	}

	for table, ids := range deleted {
		field, _ := retryField(table)
		res, err := s.collection(entities.TableRetryReliability).DeleteMany(ctx, bson.M{field: bson.M{"$in": ids}})
		if err != nil {
			return result, fmt.Errorf("deleting retry reliability: %w", err)
		}
		result.Deleted[entities.TableRetryReliability] += res.DeletedCount
	}

	return result, nil
}

func (s *Store) findAllWith(ctx context.Context, table entities.Table, filter bson.M, opts *options.FindOptions, out any) error {
	cursor, err := s.collection(table).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("finding %s: %w", table, err)
	}
	defer cursor.Close(ctx)
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("reading %s: %w", table, err)
	}
	return nil
}

var _ storage.Repository = (*Store)(nil)
