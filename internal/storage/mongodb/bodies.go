package mongodb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
)

// GridFSScheme prefixes body locations stored in GridFS
const GridFSScheme = "gridfs://"

// BodyStore keeps message bodies in a GridFS bucket
type BodyStore struct {
	bucket *gridfs.Bucket
}

// Bodies returns the GridFS body store of this database
func (s *Store) Bodies() *BodyStore {
	return &BodyStore{bucket: s.gridfs}
}

// Accepts reports whether the location is a GridFS location
func (b *BodyStore) Accepts(location string) bool {
	return strings.HasPrefix(location, GridFSScheme)
}

// Save uploads the body and returns its location. The base location only
// selects this store.
func (b *BodyStore) Save(_ context.Context, _ string, r io.Reader) (string, error) {
	id, err := b.bucket.UploadFromStream(uuid.NewString(), r)
	if err != nil {
		return "", fmt.Errorf("uploading body: %w", err)
	}
	return GridFSScheme + id.Hex(), nil
}

// Load opens the body for reading
func (b *BodyStore) Load(_ context.Context, location string) (io.ReadCloser, error) {
	id, err := fileID(location)
	if err != nil {
		return nil, err
	}
	stream, err := b.bucket.OpenDownloadStream(id)
	if err != nil {
		return nil, fmt.Errorf("opening download stream: %w", err)
	}
	return stream, nil
}

// Update replaces the body stored at location
func (b *BodyStore) Update(_ context.Context, location string, r io.Reader) error {
	id, err := fileID(location)
	if err != nil {
		return err
	}
	if err := b.bucket.Delete(id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("replacing body: %w", err)
	}
	if err := b.bucket.UploadFromStreamWithID(id, uuid.NewString(), r); err != nil {
		return fmt.Errorf("uploading body: %w", err)
	}
	return nil
}

// Delete removes the body; a missing body is not an error
func (b *BodyStore) Delete(_ context.Context, location string) error {
	id, err := fileID(location)
	if err != nil {
		return err
	}
	if err := b.bucket.Delete(id); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("deleting body: %w", err)
	}
	return nil
}

func fileID(location string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimPrefix(location, GridFSScheme))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid body location %q: %w", location, err)
	}
	return id, nil
}
