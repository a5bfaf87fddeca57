package ebms

import (
	"errors"
	"time"
)

// MessageUnit is either a UserMessage or a SignalMessage
type MessageUnit interface {
	MessageID() string
	RefToMessageID() string
	Timestamp() time.Time
}

// MessageID returns the ebMS message id
func (u *UserMessage) MessageID() string {
	if u == nil || u.MessageInfo == nil {
		return ""
	}
	return u.MessageInfo.MessageId
}

// RefToMessageID returns the referenced message id, if any
func (u *UserMessage) RefToMessageID() string {
	if u == nil || u.MessageInfo == nil {
		return ""
	}
	return u.MessageInfo.RefToMessageId
}

// Timestamp returns the message creation time
func (u *UserMessage) Timestamp() time.Time {
	if u == nil || u.MessageInfo == nil {
		return time.Time{}
	}
	return u.MessageInfo.Timestamp
}

// Sender returns the From party, never nil
func (u *UserMessage) Sender() *Party {
	if u.PartyInfo == nil || u.PartyInfo.From == nil {
		return &Party{}
	}
	return u.PartyInfo.From
}

// Receiver returns the To party, never nil
func (u *UserMessage) Receiver() *Party {
	if u.PartyInfo == nil || u.PartyInfo.To == nil {
		return &Party{}
	}
	return u.PartyInfo.To
}

// MessageID returns the ebMS message id
func (s *SignalMessage) MessageID() string {
	if s == nil || s.MessageInfo == nil {
		return ""
	}
	return s.MessageInfo.MessageId
}

// RefToMessageID returns the id of the message this signal answers
func (s *SignalMessage) RefToMessageID() string {
	if s == nil || s.MessageInfo == nil {
		return ""
	}
	if s.MessageInfo.RefToMessageId == "" {
		for _, e := range s.Errors {
			if e.RefToMessageInError != "" {
				return e.RefToMessageInError
			}
		}
	}
	return s.MessageInfo.RefToMessageId
}

// Timestamp returns the signal creation time
func (s *SignalMessage) Timestamp() time.Time {
	if s == nil || s.MessageInfo == nil {
		return time.Time{}
	}
	return s.MessageInfo.Timestamp
}

// IsReceipt reports whether the signal is a receipt
func (s *SignalMessage) IsReceipt() bool { return s.Receipt != nil }

// IsError reports whether the signal carries ebMS errors
func (s *SignalMessage) IsError() bool { return len(s.Errors) > 0 }

// IsPullRequest reports whether the signal is a pull request
func (s *SignalMessage) IsPullRequest() bool { return s.PullRequest != nil }

// AS4Message is the set of message units and attachments exchanged in one
// transport message.
type AS4Message struct {
	UserMessages   []*UserMessage
	SignalMessages []*SignalMessage
	Attachments    []*Attachment

	// ContentType is the transport content type the message was read with
	ContentType string
}

// ErrEmptyMessage is returned when an operation requires at least one message unit
var ErrEmptyMessage = errors.New("as4 message has no message units")

// NewAS4Message creates a message holding the given units
func NewAS4Message(units ...MessageUnit) *AS4Message {
	m := &AS4Message{}
	for _, u := range units {
		m.AddMessageUnit(u)
	}
	return m
}

// AddMessageUnit appends a user or signal message unit
func (m *AS4Message) AddMessageUnit(u MessageUnit) {
	switch unit := u.(type) {
	case *UserMessage:
		m.UserMessages = append(m.UserMessages, unit)
	case *SignalMessage:
		m.SignalMessages = append(m.SignalMessages, unit)
	}
}

// AddAttachment appends an attachment and, when the message has exactly one
// user message, references it from that user message's PayloadInfo.
func (m *AS4Message) AddAttachment(a *Attachment) {
	m.Attachments = append(m.Attachments, a)
	if len(m.UserMessages) != 1 {
		return
	}
	um := m.UserMessages[0]
	if um.PayloadInfo == nil {
		um.PayloadInfo = &PayloadInfo{}
	}
	href := "cid:" + a.ID
	for _, pi := range um.PayloadInfo.PartInfo {
		if pi.Href == href {
			return
		}
	}
	um.PayloadInfo.PartInfo = append(um.PayloadInfo.PartInfo, a.partInfo())
}

// RefreshPartInfo rewrites the PartInfo of the single user message from the
// current attachment properties, e.g. after compressing the payloads.
func (m *AS4Message) RefreshPartInfo() {
	if len(m.UserMessages) != 1 || len(m.Attachments) == 0 {
		return
	}
	info := &PayloadInfo{}
	for _, a := range m.Attachments {
		info.PartInfo = append(info.PartInfo, a.partInfo())
	}
	m.UserMessages[0].PayloadInfo = info
}

// MessageUnits returns all units, user messages first
func (m *AS4Message) MessageUnits() []MessageUnit {
	units := make([]MessageUnit, 0, len(m.UserMessages)+len(m.SignalMessages))
	for _, u := range m.UserMessages {
		units = append(units, u)
	}
	for _, s := range m.SignalMessages {
		units = append(units, s)
	}
	return units
}

// PrimaryMessageUnit returns the first user message, or the first signal
func (m *AS4Message) PrimaryMessageUnit() MessageUnit {
	if m == nil {
		return nil
	}
	if len(m.UserMessages) > 0 {
		return m.UserMessages[0]
	}
	if len(m.SignalMessages) > 0 {
		return m.SignalMessages[0]
	}
	return nil
}

// PrimaryMessageID returns the id of the primary message unit
func (m *AS4Message) PrimaryMessageID() string {
	if u := m.PrimaryMessageUnit(); u != nil {
		return u.MessageID()
	}
	return ""
}

// FirstUserMessage returns the first user message or nil
func (m *AS4Message) FirstUserMessage() *UserMessage {
	if m == nil || len(m.UserMessages) == 0 {
		return nil
	}
	return m.UserMessages[0]
}

// IsEmpty reports whether the message has no units
func (m *AS4Message) IsEmpty() bool {
	return m == nil || (len(m.UserMessages) == 0 && len(m.SignalMessages) == 0)
}

// IsUserMessage reports whether the primary unit is a user message
func (m *AS4Message) IsUserMessage() bool { return m != nil && len(m.UserMessages) > 0 }

// IsSignalMessage reports whether the message only carries signals
func (m *AS4Message) IsSignalMessage() bool {
	return m != nil && len(m.UserMessages) == 0 && len(m.SignalMessages) > 0
}

// AttachmentByID finds an attachment by content id, tolerating cid: and <>
func (m *AS4Message) AttachmentByID(id string) *Attachment {
	id = normalizeContentID(id)
	for _, a := range m.Attachments {
		if normalizeContentID(a.ID) == id {
			return a
		}
	}
	return nil
}

// Close releases all attachment streams
func (m *AS4Message) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, a := range m.Attachments {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
