// Package bodystore keeps serialized message bodies outside the repository.
// Records only hold a location; the [Router] hands each location to the
// first store that accepts it.
package bodystore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

// ErrNoStore is returned when no store accepts a location
var ErrNoStore = errors.New("no body store accepts location")

// Store saves and loads message bodies by location
type Store interface {
	// Accepts reports whether this store handles the location
	Accepts(location string) bool

	// Load opens the body at location; the caller closes it
	Load(ctx context.Context, location string) (io.ReadCloser, error)

	// Save stores a new body under the base location and returns its location
	Save(ctx context.Context, base string, r io.Reader) (string, error)

	// Update replaces the body at location
	Update(ctx context.Context, location string, r io.Reader) error

	// Delete removes the body at location
	Delete(ctx context.Context, location string) error
}

// Router dispatches to the first store accepting a location
type Router struct {
	stores []Store
}

// NewRouter creates a router over stores, consulted in order
func NewRouter(stores ...Store) *Router {
	return &Router{stores: stores}
}

// Add appends a store
func (r *Router) Add(s Store) {
	r.stores = append(r.stores, s)
}

func (r *Router) route(location string) (Store, error) {
	for _, s := range r.stores {
		if s.Accepts(location) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoStore, location)
}

// Accepts reports whether any store accepts the location
func (r *Router) Accepts(location string) bool {
	_, err := r.route(location)
	return err == nil
}

// Load implements Store
func (r *Router) Load(ctx context.Context, location string) (io.ReadCloser, error) {
	s, err := r.route(location)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, location)
}

// Save implements Store
func (r *Router) Save(ctx context.Context, base string, body io.Reader) (string, error) {
	s, err := r.route(base)
	if err != nil {
		return "", err
	}
	return s.Save(ctx, base, body)
}

// Update implements Store
func (r *Router) Update(ctx context.Context, location string, body io.Reader) error {
	s, err := r.route(location)
	if err != nil {
		return err
	}
	return s.Update(ctx, location, body)
}

// Delete implements Store
func (r *Router) Delete(ctx context.Context, location string) error {
	s, err := r.route(location)
	if err != nil {
		return err
	}
	return s.Delete(ctx, location)
}

// SaveMessage serializes msg and stores it under base. It returns the body
// location and the transport content type needed to read it back.
func SaveMessage(ctx context.Context, store Store, ser ebms.Serializer, base string, msg *ebms.AS4Message) (string, string, error) {
	var buf bytes.Buffer
	contentType, err := ser.Serialize(msg, &buf)
	if err != nil {
		return "", "", fmt.Errorf("serializing message: %w", err)
	}
	location, err := store.Save(ctx, base, &buf)
	if err != nil {
		return "", "", fmt.Errorf("saving message body: %w", err)
	}
	return location, contentType, nil
}

// UpdateMessage re-serializes msg over an existing body. The content type
// can change, for example when attachments are compressed.
func UpdateMessage(ctx context.Context, store Store, ser ebms.Serializer, location string, msg *ebms.AS4Message) (string, error) {
	var buf bytes.Buffer
	contentType, err := ser.Serialize(msg, &buf)
	if err != nil {
		return "", fmt.Errorf("serializing message: %w", err)
	}
	if err := store.Update(ctx, location, &buf); err != nil {
		return "", fmt.Errorf("updating message body: %w", err)
	}
	return contentType, nil
}

// LoadMessage reads and deserializes the body at location
func LoadMessage(ctx context.Context, store Store, ser ebms.Serializer, location, contentType string) (*ebms.AS4Message, error) {
	rc, err := store.Load(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("loading message body: %w", err)
	}
	defer rc.Close()

	msg, err := ser.Deserialize(rc, contentType)
	if err != nil {
		return nil, fmt.Errorf("deserializing message body %s: %w", location, err)
	}
	return msg, nil
}
