package ebms

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Well-known part property names
const (
	PartPropertyMimeType        = "MimeType"
	PartPropertyCompressionType = "CompressionType"
	PartPropertyCharacterSet    = "CharacterSet"
)

// Attachment is a payload part. Its content is a stream that is read at most
// once; Bytes buffers it so it can be serialized more than once.
type Attachment struct {
	ID          string
	ContentType string
	Properties  map[string]string

	mu       sync.Mutex
	content  io.ReadCloser
	buf      []byte
	buffered bool
}

// NewAttachment creates an attachment over r. When r is an io.Closer it is
// closed by Close or after buffering.
func NewAttachment(id, contentType string, r io.Reader) *Attachment {
	a := &Attachment{
		ID:          normalizeContentID(id),
		ContentType: contentType,
		Properties:  make(map[string]string),
	}
	a.SetContent(r)
	return a
}

// SetContent replaces the attachment content
func (a *Attachment) SetContent(r io.Reader) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.content != nil {
		a.content.Close()
	}
	a.buf, a.buffered = nil, false
	if rc, ok := r.(io.ReadCloser); ok {
		a.content = rc
	} else if r != nil {
		a.content = io.NopCloser(r)
	} else {
		a.content = nil
	}
}

// Bytes returns the full content, buffering and closing the stream on first use
func (a *Attachment) Bytes() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buffered {
		return a.buf, nil
	}
	if a.content == nil {
		a.buffered = true
		return nil, nil
	}
	data, err := io.ReadAll(a.content)
	a.content.Close()
	a.content = nil
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", a.ID, err)
	}
	a.buf, a.buffered = data, true
	return data, nil
}

// Reader returns a fresh reader over the buffered content
func (a *Attachment) Reader() (io.Reader, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// Close releases the underlying stream if it was never read
func (a *Attachment) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.content == nil {
		return nil
	}
	err := a.content.Close()
	a.content = nil
	return err
}

// IsCompressed reports whether the part is marked as gzip compressed
func (a *Attachment) IsCompressed() bool {
	return a.Properties[PartPropertyCompressionType] == "application/gzip"
}

func (a *Attachment) partInfo() PartInfo {
	pi := PartInfo{Href: "cid:" + a.ID}
	if len(a.Properties) == 0 {
		return pi
	}
	names := make([]string, 0, len(a.Properties))
	for name := range a.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	pi.PartProperties = &PartProperties{}
	for _, name := range names {
		pi.PartProperties.Property = append(pi.PartProperties.Property, Property{Name: name, Value: a.Properties[name]})
	}
	return pi
}

func normalizeContentID(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "cid:")
	contentID = strings.TrimPrefix(contentID, "<")
	return strings.TrimSuffix(contentID, ">")
}
