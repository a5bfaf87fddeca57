package compression

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

const (
	// CompressionTypeGzip is the CompressionType part property of gzip parts
	CompressionTypeGzip = "application/gzip"

	// DefaultMaxDecompressedSize bounds the size of one decompressed payload
	DefaultMaxDecompressedSize = 512 << 20
)

var (
	// ErrTooLarge is returned when a payload decompresses beyond the limit
	ErrTooLarge = errors.New("decompressed payload exceeds size limit")
	// ErrNotGzip is returned for content without the gzip magic number
	ErrNotGzip = errors.New("content is not gzip compressed")
	// ErrMissingMimeType is returned for a compressed part that does not
	// say what it was before compression
	ErrMissingMimeType = errors.New("compressed part has no MimeType property")
)

var gzipMagic = []byte{0x1f, 0x8b}

// Compressor gzips payload parts and restores them. It is safe for
// concurrent use; gzip writers are pooled.
type Compressor struct {
	level   int
	maxSize int64
	writers sync.Pool
}

// Option configures a Compressor
type Option func(*Compressor)

// WithLevel sets the gzip compression level
func WithLevel(level int) Option {
	return func(c *Compressor) { c.level = level }
}

// WithMaxSize bounds the size of a decompressed payload
func WithMaxSize(n int64) Option {
	return func(c *Compressor) { c.maxSize = n }
}

// NewCompressor creates a compressor. An invalid level is an error.
func NewCompressor(opts ...Option) (*Compressor, error) {
	c := &Compressor{level: gzip.DefaultCompression, maxSize: DefaultMaxDecompressedSize}
	for _, opt := range opts {
		opt(c)
	}
	if c.level < gzip.HuffmanOnly || c.level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip level %d", c.level)
	}
	if c.maxSize <= 0 {
		return nil, fmt.Errorf("invalid decompression limit %d", c.maxSize)
	}
	return c, nil
}

// Default returns a compressor with the default level and limit
func Default() *Compressor {
	c, _ := NewCompressor()
	return c
}

func (c *Compressor) writer(w io.Writer) *gzip.Writer {
	if zw, ok := c.writers.Get().(*gzip.Writer); ok {
		zw.Reset(w)
		return zw
	}
	// level was checked by NewCompressor
	zw, _ := gzip.NewWriterLevel(w, c.level)
	return zw
}

// Compress writes the gzip form of src to dst and returns the number of
// uncompressed bytes read
func (c *Compressor) Compress(dst io.Writer, src io.Reader) (int64, error) {
	zw := c.writer(dst)
	defer c.writers.Put(zw)

	n, err := io.Copy(zw, src)
	if err != nil {
		zw.Close()
		return n, fmt.Errorf("compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("compressing: %w", err)
	}
	return n, nil
}

// Decompress writes the content of the gzip stream src to dst. It fails
// with ErrNotGzip when src does not start with the gzip magic number and
// with ErrTooLarge past the size limit.
func (c *Compressor) Decompress(dst io.Writer, src io.Reader) (int64, error) {
	br := bufio.NewReader(src)
	head, err := br.Peek(len(gzipMagic))
	if err != nil || !bytes.Equal(head, gzipMagic) {
		return 0, ErrNotGzip
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return 0, fmt.Errorf("decompressing: %w", err)
	}
	defer zr.Close()

	n, err := io.Copy(dst, io.LimitReader(zr, c.maxSize+1))
	if err != nil {
		return n, fmt.Errorf("decompressing: %w", err)
	}
	if n > c.maxSize {
		return n, ErrTooLarge
	}
	return n, nil
}

// CompressAttachment replaces the content of a with its gzip form and
// records the CompressionType and original MimeType part properties.
// Compressed attachments are left alone.
func (c *Compressor) CompressAttachment(a *ebms.Attachment) error {
	if a.IsCompressed() {
		return nil
	}
	r, err := a.Reader()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := c.Compress(&buf, r); err != nil {
		return fmt.Errorf("attachment %s: %w", a.ID, err)
	}
	if a.Properties[ebms.PartPropertyMimeType] == "" {
		a.Properties[ebms.PartPropertyMimeType] = a.ContentType
	}
	a.Properties[ebms.PartPropertyCompressionType] = CompressionTypeGzip
	a.ContentType = CompressionTypeGzip
	a.SetContent(&buf)
	return nil
}

// DecompressAttachment reverses CompressAttachment. The content type comes
// back from the MimeType part property, which must be present.
func (c *Compressor) DecompressAttachment(a *ebms.Attachment) error {
	if !a.IsCompressed() {
		return nil
	}
	mimeType := a.Properties[ebms.PartPropertyMimeType]
	if mimeType == "" {
		return fmt.Errorf("attachment %s: %w", a.ID, ErrMissingMimeType)
	}
	r, err := a.Reader()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := c.Decompress(&buf, r); err != nil {
		return fmt.Errorf("attachment %s: %w", a.ID, err)
	}
	delete(a.Properties, ebms.PartPropertyCompressionType)
	a.ContentType = mimeType
	a.SetContent(&buf)
	return nil
}

// precompressed lists media types gzip cannot shrink
var precompressed = map[string]bool{
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/zip":              true,
	"application/x-7z-compressed":  true,
	"application/x-bzip2":          true,
	"application/zstd":             true,
	"application/vnd.rar":          true,
	"application/x-rar-compressed": true,
}

// ShouldCompress reports whether a payload of contentType is worth
// compressing. Parameters such as charset are ignored; images, audio and
// video are assumed to be compressed already, except for SVG.
func ShouldCompress(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if precompressed[mediaType] {
		return false
	}
	if mediaType == "image/svg+xml" {
		return true
	}
	for _, prefix := range []string{"image/", "audio/", "video/"} {
		if strings.HasPrefix(mediaType, prefix) {
			return false
		}
	}
	return true
}
