package senders

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

func envelope() *msh.Envelope {
	return &msh.Envelope{
		MessageID:   "m-1@example.org",
		Table:       entities.TableInMessages,
		EntityID:    42,
		ContentType: "application/xml",
		Body:        []byte("<DeliverMessage/>"),
	}
}

func TestRegistry_UnknownMethod(t *testing.T) {
	r := NewRegistry()
	_, err := r.Sender(&pmode.Method{Type: "CARRIER_PIGEON"})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = r.Sender(nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)

	res := r.Send(context.Background(), &pmode.Method{Type: "nope"}, envelope())
	assert.Equal(t, FatalFail, res.Status)
}

func TestRegistry_CachesByParameters(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	a, err := r.Sender(&pmode.Method{Type: "file", Parameters: map[string]string{"location": dir}})
	require.NoError(t, err)
	b, err := r.Sender(&pmode.Method{Type: "FILE", Parameters: map[string]string{"location": dir}})
	require.NoError(t, err)
	c, err := r.Sender(&pmode.Method{Type: "FILE", Parameters: map[string]string{"location": t.TempDir()}})
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.NoError(t, r.Close())
}

func TestFileSender(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deliver")
	s, err := NewFileSender(map[string]string{"location": dir})
	require.NoError(t, err)

	res := s.Send(context.Background(), envelope())
	require.Equal(t, Success, res.Status, res.Err)

	data, err := os.ReadFile(filepath.Join(dir, "m-1@example.org.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<DeliverMessage/>", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSender_RequiresLocation(t *testing.T) {
	_, err := NewFileSender(nil)
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "a_b_c.xml", FileName(&msh.Envelope{MessageID: "a/b:c"}))
	assert.Equal(t, "in_exceptions-3.xml", FileName(&msh.Envelope{Table: entities.TableInExceptions, EntityID: 3}))
}

func TestHTTPSender(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Status
	}{
		{"ok", http.StatusOK, Success},
		{"accepted", http.StatusAccepted, Success},
		{"bad request", http.StatusBadRequest, FatalFail},
		{"unavailable", http.StatusServiceUnavailable, RetryableFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, _ := io.ReadAll(r.Body)
				got = string(data)
				assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s, err := NewHTTPSender(map[string]string{"url": srv.URL, "timeout": "5"})
			require.NoError(t, err)

			res := s.Send(context.Background(), envelope())
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, "<DeliverMessage/>", got)
		})
	}
}

func TestHTTPSender_ConnectionFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := NewHTTPSender(map[string]string{"url": url})
	require.NoError(t, err)
	assert.Equal(t, RetryableFail, s.Send(context.Background(), envelope()).Status)
}

func TestHTTPSender_InvalidParameters(t *testing.T) {
	_, err := NewHTTPSender(map[string]string{})
	assert.Error(t, err)
	_, err = NewHTTPSender(map[string]string{"url": "http://x", "timeout": "soon"})
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSender(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSender{topic: "deliveries", writer: w}

	res := s.Send(context.Background(), envelope())
	require.Equal(t, Success, res.Status)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "m-1@example.org", string(w.msgs[0].Key))
	assert.Equal(t, "<DeliverMessage/>", string(w.msgs[0].Value))
	assert.Equal(t, "in_messages/42", string(w.msgs[0].Headers[1].Value))

	w.err = errors.New("leader not available")
	res = s.Send(context.Background(), envelope())
	assert.Equal(t, RetryableFail, res.Status)
	assert.ErrorContains(t, res.Err, "deliveries")

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSender_Parameters(t *testing.T) {
	_, err := NewKafkaSender(map[string]string{"brokers": "localhost:9092"})
	assert.Error(t, err)
	_, err = NewKafkaSender(map[string]string{"topic": "t", "brokers": " , "})
	assert.Error(t, err)

	s, err := NewKafkaSender(map[string]string{"topic": "t", "brokers": "a:9092, b:9092"})
	require.NoError(t, err)
	assert.Equal(t, "t", s.(*KafkaSender).topic)
}
