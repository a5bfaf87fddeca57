package senders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirosfoundation/go-msh/internal/msh"
)

// FileSender writes envelopes into a directory
type FileSender struct {
	dir string
}

// NewFileSender creates a FILE sender. Parameters: location (directory).
func NewFileSender(params map[string]string) (Sender, error) {
	dir := params["location"]
	if dir == "" {
		return nil, errors.New("FILE method requires a location parameter")
	}
	return &FileSender{dir: dir}, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

// FileName returns the name an envelope is written under
func FileName(env *msh.Envelope) string {
	name := env.MessageID
	if name == "" {
		name = fmt.Sprintf("%s-%d", env.Table, env.EntityID)
	}
	return unsafeChars.ReplaceAllString(name, "_") + ".xml"
}

// Send implements Sender. The file is written under a temporary name and
// renamed, so readers never see partial content.
func (s *FileSender) Send(_ context.Context, env *msh.Envelope) Result {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return Retryable(fmt.Errorf("creating %s: %w", s.dir, err))
	}

	target := filepath.Join(s.dir, FileName(env))
	tmp, err := os.CreateTemp(s.dir, ".deliver-*")
	if err != nil {
		return Retryable(fmt.Errorf("creating file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(env.Body); err != nil {
		tmp.Close()
		return Retryable(fmt.Errorf("writing file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return Retryable(fmt.Errorf("closing file: %w", err))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return Retryable(fmt.Errorf("renaming file: %w", err))
	}
	return Succeeded()
}
