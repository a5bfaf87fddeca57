package msh

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// Mode says which kind of processing a context is part of
type Mode int

const (
	ModeUnknown Mode = iota
	ModeSubmit
	ModeSend
	ModeReceive
	ModeDeliver
	ModeForward
	ModeNotify
)

var modeNames = map[Mode]string{
	ModeUnknown: "Unknown",
	ModeSubmit:  "Submit",
	ModeSend:    "Send",
	ModeReceive: "Receive",
	ModeDeliver: "Deliver",
	ModeForward: "Forward",
	ModeNotify:  "Notify",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "Unknown"
}

// ReceivedMessage is a raw inbound body that has not been parsed yet
type ReceivedMessage struct {
	Body        io.ReadCloser
	ContentType string

	// Origin names where the body came from, e.g. a remote address
	Origin string

	mu       sync.Mutex
	buf      []byte
	buffered bool

	once sync.Once
	err  error
}

// NewReceivedMessage wraps a body stream
func NewReceivedMessage(body io.ReadCloser, contentType, origin string) *ReceivedMessage {
	return &ReceivedMessage{Body: body, ContentType: contentType, Origin: origin}
}

// Bytes reads the whole body. The result is kept, so the raw bytes remain
// available once the stream has been consumed or closed.
func (r *ReceivedMessage) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buffered {
		return r.buf, nil
	}
	if r.Body == nil {
		r.buffered = true
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading received message: %w", err)
	}
	r.buf, r.buffered = data, true
	return data, nil
}

// Close closes the body once
func (r *ReceivedMessage) Close() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		if r.Body != nil {
			r.err = r.Body.Close()
		}
	})
	return r.err
}

// Payload is an attachment of a submitted message, referenced by location
type Payload struct {
	ID          string
	ContentType string
	Location    string
	Properties  map[string]string
}

// SubmitMessage is a business application's request to send a user message
type SubmitMessage struct {
	MessageID      string
	RefToMessageID string
	ConversationID string
	PModeID        string
	MPC            string

	From *ebms.Party
	To   *ebms.Party

	AgreementRef string
	Service      string
	ServiceType  string
	Action       string

	MessageProperties []ebms.Property
	Payloads          []Payload
}

// Envelope is a document handed to a business application, either a
// delivered user message or a notification about a signal or exception.
type Envelope struct {
	// MessageID is the ebMS message the envelope is about
	MessageID string

	// Table and EntityID reference the record the envelope was built from
	Table    entities.Table
	EntityID int64

	ContentType string
	Body        []byte
}

// DeliverEnvelope carries a received user message to its consumer
type DeliverEnvelope struct {
	Envelope
}

// NotifyEnvelope carries a receipt, error or exception notification
type NotifyEnvelope struct {
	Envelope

	// Status is Receipt, Error or Exception
	Status string
}

// ErrorResult describes a business-level failure reported as an ebMS error
type ErrorResult struct {
	Code        ebms.ErrorCode
	Description string
}

// Alias returns the short description of the error code
func (e *ErrorResult) Alias() string {
	return e.Code.ShortDescription
}

func (e *ErrorResult) Error() string {
	if e.Description == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Description
}

// MessagingContext is the value passed between the steps of a pipeline. It
// is copy-on-write: every With method returns a new context and leaves the
// receiver untouched. A context holds at most one payload; setting one
// clears the others.
type MessagingContext struct {
	mode Mode

	received  *ReceivedMessage
	as4       *ebms.AS4Message
	submit    *SubmitMessage
	deliver   *DeliverEnvelope
	notify    *NotifyEnvelope
	reception *entities.ReceptionAwareness
	retry     *entities.RetryReliability

	sending           *pmode.SendingProcessingMode
	receiving         *pmode.ReceivingProcessingMode
	receivingSnapshot *snapshot

	response *ebms.AS4Message

	exception   error
	errorResult *ErrorResult

	entityTable entities.Table
	entityID    int64
}

type snapshot struct {
	once sync.Once
	s    string
	err  error
}

// NewContext creates an empty context in the given mode
func NewContext(mode Mode) *MessagingContext {
	return &MessagingContext{mode: mode}
}

func (c *MessagingContext) clone() *MessagingContext {
	cp := *c
	return &cp
}

func (c *MessagingContext) clearPayload() {
	c.received = nil
	c.as4 = nil
	c.submit = nil
	c.deliver = nil
	c.notify = nil
	c.reception = nil
	c.retry = nil
}

// Mode returns the processing mode
func (c *MessagingContext) Mode() Mode { return c.mode }

// WithMode returns a copy in another mode
func (c *MessagingContext) WithMode(m Mode) *MessagingContext {
	cp := c.clone()
	cp.mode = m
	return cp
}

// ReceivedMessage returns the raw body payload or nil
func (c *MessagingContext) ReceivedMessage() *ReceivedMessage { return c.received }

// WithReceivedMessage returns a copy holding only the raw body payload
func (c *MessagingContext) WithReceivedMessage(r *ReceivedMessage) *MessagingContext {
	cp := c.clone()
	cp.clearPayload()
	cp.received = r
	return cp
}

// AS4Message returns the parsed message payload or nil
func (c *MessagingContext) AS4Message() *ebms.AS4Message { return c.as4 }

// WithAS4Message returns a copy holding only the parsed message payload
func (c *MessagingContext) WithAS4Message(m *ebms.AS4Message) *MessagingContext {
	cp := c.clone()
	cp.clearPayload()
	cp.as4 = m
	return cp
}

// SubmitMessage returns the submit payload or nil
func (c *MessagingContext) SubmitMessage() *SubmitMessage { return c.submit }

// WithSubmitMessage returns a copy holding only the submit payload
func (c *MessagingContext) WithSubmitMessage(s *SubmitMessage) *MessagingContext {
	cp := c.clone()
	cp.clearPayload()
	cp.submit = s
	return cp
}

// DeliverEnvelope returns the deliver payload or nil
func (c *MessagingContext) DeliverEnvelope() *DeliverEnvelope { return c.deliver }

// WithDeliverEnvelope returns a copy holding only the deliver payload
func (c *MessagingContext) WithDeliverEnvelope(e *DeliverEnvelope) *MessagingContext {
	cp := c.clone()
	cp.clearPayload()
	cp.deliver = e
	return cp
}

// NotifyEnvelope returns the notify payload or nil
func (c *MessagingContext) NotifyEnvelope() *NotifyEnvelope { return c.notify }

// WithNotifyEnvelope returns a copy holding only the notify payload
func (c *MessagingContext) WithNotifyEnvelope(e *NotifyEnvelope) *MessagingContext {
	cp := c.clone()
	cp.clearPayload()
	cp.notify = e
	return cp
}

// ReceptionAwareness returns the reception awareness payload or nil
func (c *MessagingContext) ReceptionAwareness() *entities.ReceptionAwareness { return c.reception }

// WithReceptionAwareness returns a copy holding only the reception awareness payload
func (c *MessagingContext) WithReceptionAwareness(r *entities.ReceptionAwareness) *MessagingContext {
	cp := c.clone()
	cp.clearPayload()
	cp.reception = r
	return cp
}

// RetryReliability returns the retry record payload or nil
func (c *MessagingContext) RetryReliability() *entities.RetryReliability { return c.retry }

// WithRetryReliability returns a copy holding only the retry record payload
func (c *MessagingContext) WithRetryReliability(r *entities.RetryReliability) *MessagingContext {
	cp := c.clone()
	cp.clearPayload()
	cp.retry = r
	return cp
}

// SendingPMode returns the sending P-Mode or nil
func (c *MessagingContext) SendingPMode() *pmode.SendingProcessingMode { return c.sending }

// WithSendingPMode returns a copy with the sending P-Mode set
func (c *MessagingContext) WithSendingPMode(pm *pmode.SendingProcessingMode) *MessagingContext {
	cp := c.clone()
	cp.sending = pm
	return cp
}

// ReceivingPMode returns the receiving P-Mode or nil
func (c *MessagingContext) ReceivingPMode() *pmode.ReceivingProcessingMode { return c.receiving }

// WithReceivingPMode returns a copy with the receiving P-Mode set. The
// serialized form is recomputed on next use.
func (c *MessagingContext) WithReceivingPMode(pm *pmode.ReceivingProcessingMode) *MessagingContext {
	cp := c.clone()
	cp.receiving = pm
	cp.receivingSnapshot = nil
	if pm != nil {
		cp.receivingSnapshot = &snapshot{}
	}
	return cp
}

// ReceivingPModeString returns the YAML form of the receiving P-Mode, or an
// empty string when none is set. The result is computed once per P-Mode.
func (c *MessagingContext) ReceivingPModeString() (string, error) {
	if c.receiving == nil || c.receivingSnapshot == nil {
		return "", nil
	}
	s := c.receivingSnapshot
	s.once.Do(func() {
		s.s, s.err = pmode.Marshal(c.receiving)
	})
	return s.s, s.err
}

// SendingPModeString returns the YAML form of the sending P-Mode
func (c *MessagingContext) SendingPModeString() (string, error) {
	if c.sending == nil {
		return "", nil
	}
	return pmode.Marshal(c.sending)
}

// Response returns the signal to answer the sender with on the same
// connection, or nil
func (c *MessagingContext) Response() *ebms.AS4Message { return c.response }

// WithResponse returns a copy carrying the synchronous reply
func (c *MessagingContext) WithResponse(m *ebms.AS4Message) *MessagingContext {
	cp := c.clone()
	cp.response = m
	return cp
}

// Exception returns the failure recorded by a step, if any
func (c *MessagingContext) Exception() error { return c.exception }

// WithException returns a copy carrying err
func (c *MessagingContext) WithException(err error) *MessagingContext {
	cp := c.clone()
	cp.exception = err
	return cp
}

// ErrorResult returns the business failure recorded by a step, if any
func (c *MessagingContext) ErrorResult() *ErrorResult { return c.errorResult }

// WithErrorResult returns a copy carrying r
func (c *MessagingContext) WithErrorResult(r *ErrorResult) *MessagingContext {
	cp := c.clone()
	cp.errorResult = r
	return cp
}

// Entity returns the record the context was built from, if any
func (c *MessagingContext) Entity() (entities.Table, int64) {
	return c.entityTable, c.entityID
}

// WithEntity returns a copy referencing a stored record
func (c *MessagingContext) WithEntity(table entities.Table, id int64) *MessagingContext {
	cp := c.clone()
	cp.entityTable, cp.entityID = table, id
	return cp
}

// MessageID returns the ebMS message id the context is about, if known
func (c *MessagingContext) MessageID() string {
	switch {
	case c.as4 != nil:
		return c.as4.PrimaryMessageID()
	case c.submit != nil:
		return c.submit.MessageID
	case c.deliver != nil:
		return c.deliver.MessageID
	case c.notify != nil:
		return c.notify.MessageID
	case c.reception != nil:
		return c.reception.RefToEbmsMessageID
	}
	return ""
}

// Close releases the streams held by the payload. It may be called more
// than once.
func (c *MessagingContext) Close() error {
	if c == nil {
		return nil
	}
	return errors.Join(c.received.Close(), c.as4.Close(), c.response.Close())
}
