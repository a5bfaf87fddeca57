package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

// Table names a persisted record collection
type Table string

const (
	TableInMessages         Table = "in_messages"
	TableOutMessages        Table = "out_messages"
	TableInExceptions       Table = "in_exceptions"
	TableOutExceptions      Table = "out_exceptions"
	TableReceptionAwareness Table = "reception_awareness"
	TableRetryReliability   Table = "retry_reliability"
)

// Tables lists every table in creation order
func Tables() []Table {
	return []Table{
		TableInMessages, TableOutMessages,
		TableInExceptions, TableOutExceptions,
		TableReceptionAwareness, TableRetryReliability,
	}
}

// Entity is implemented by every persisted record
type Entity interface {
	GetID() int64
	SetID(id int64)
	TableName() string

	// Stamp sets the insertion time when unset and the modification time
	Stamp(now time.Time)
}

// New returns a pointer to an empty record of the given table
func New(table Table) (Entity, error) {
	switch table {
	case TableInMessages:
		return &InMessage{}, nil
	case TableOutMessages:
		return &OutMessage{}, nil
	case TableInExceptions:
		return &InException{}, nil
	case TableOutExceptions:
		return &OutException{}, nil
	case TableReceptionAwareness:
		return &ReceptionAwareness{}, nil
	case TableRetryReliability:
		return &RetryReliability{}, nil
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
}

// MessageEntity holds the fields shared by received and sent message units
type MessageEntity struct {
	ID                 int64       `gorm:"primaryKey;autoIncrement" bson:"_id" json:"id"`
	EbmsMessageID      string      `gorm:"column:ebms_message_id;size:255;index" bson:"ebms_message_id" json:"ebmsMessageId"`
	EbmsRefToMessageID string      `gorm:"column:ebms_ref_to_message_id;size:255;index" bson:"ebms_ref_to_message_id,omitempty" json:"ebmsRefToMessageId,omitempty"`
	EbmsMessageType    MessageType `gorm:"column:ebms_message_type;size:32" bson:"ebms_message_type" json:"ebmsMessageType"`
	MEP                MEP         `gorm:"column:mep;size:16" bson:"mep" json:"mep"`
	ContentType        string      `gorm:"column:content_type;size:512" bson:"content_type" json:"contentType"`
	MessageLocation    string      `gorm:"column:message_location;size:1024" bson:"message_location" json:"messageLocation"`
	PModeID            string      `gorm:"column:pmode_id;size:255" bson:"pmode_id,omitempty" json:"pmodeId,omitempty"`
	PMode              string      `gorm:"column:pmode;type:text" bson:"pmode,omitempty" json:"-"`
	FromParty          string      `gorm:"column:from_party;size:512" bson:"from_party,omitempty" json:"fromParty,omitempty"`
	ToParty            string      `gorm:"column:to_party;size:512" bson:"to_party,omitempty" json:"toParty,omitempty"`
	Service            string      `gorm:"column:service;size:512" bson:"service,omitempty" json:"service,omitempty"`
	Action             string      `gorm:"column:action;size:512" bson:"action,omitempty" json:"action,omitempty"`
	ConversationID     string      `gorm:"column:conversation_id;size:255" bson:"conversation_id,omitempty" json:"conversationId,omitempty"`
	MPC                string      `gorm:"column:mpc;size:512" bson:"mpc,omitempty" json:"mpc,omitempty"`
	Operation          Operation   `gorm:"column:operation;size:32;index" bson:"operation" json:"operation"`
	IsDuplicate        bool        `gorm:"column:is_duplicate" bson:"is_duplicate" json:"isDuplicate"`
	InsertionTime      time.Time   `gorm:"column:insertion_time;index" bson:"insertion_time" json:"insertionTime"`
	ModificationTime   time.Time   `gorm:"column:modification_time" bson:"modification_time" json:"modificationTime"`
}

// GetID returns the record id
func (m *MessageEntity) GetID() int64 { return m.ID }

// SetID assigns the record id
func (m *MessageEntity) SetID(id int64) { m.ID = id }

// Stamp sets the insertion time when unset and the modification time
func (m *MessageEntity) Stamp(now time.Time) {
	if m.InsertionTime.IsZero() {
		m.InsertionTime = now
	}
	m.ModificationTime = now
}

// Lock moves the record to the Operation named by value. Sentinel and
// unparsable values leave the record unchanged. Any other value is applied
// whatever the current Operation, including moves back to an earlier
// state such as ToBeRetried to ToBeDelivered: Lock does not check the
// transition. Callers that share the record with other agents write it
// through storage.Update, which only succeeds from the state they read.
func (m *MessageEntity) Lock(value string) {
	if op := ParseOperation(value); !op.IsSentinel() {
		m.Operation = op
	}
}

// Describe copies the identifying fields of a message unit
func (m *MessageEntity) Describe(unit ebms.MessageUnit) {
	m.EbmsMessageID = unit.MessageID()
	m.EbmsRefToMessageID = unit.RefToMessageID()

	switch u := unit.(type) {
	case *ebms.UserMessage:
		m.EbmsMessageType = UserMessageType
		m.FromParty = partyString(u.Sender())
		m.ToParty = partyString(u.Receiver())
		m.MPC = u.MPC
		if ci := u.CollaborationInfo; ci != nil {
			m.Service = ci.Service.Value
			m.Action = ci.Action
			m.ConversationID = ci.ConversationId
		}
	case *ebms.SignalMessage:
		m.EbmsMessageType = ReceiptType
		if u.IsError() {
			m.EbmsMessageType = ErrorType
		}
	}
}

func partyString(p *ebms.Party) string {
	ids := make([]string, 0, len(p.PartyId))
	for _, id := range p.PartyId {
		if id.Type != "" {
			ids = append(ids, id.Type+":"+id.Value)
		} else {
			ids = append(ids, id.Value)
		}
	}
	return strings.Join(ids, ",")
}

// InMessage is a received message unit
type InMessage struct {
	MessageEntity `bson:",inline"`
	Status        InStatus `gorm:"column:status;size:32;index" bson:"status" json:"status"`
}

// TableName implements Entity
func (InMessage) TableName() string { return string(TableInMessages) }

// OutMessage is a message unit to be sent or already sent
type OutMessage struct {
	MessageEntity `bson:",inline"`
	Status        OutStatus `gorm:"column:status;size:32;index" bson:"status" json:"status"`
	URL           string    `gorm:"column:url;size:1024" bson:"url,omitempty" json:"url,omitempty"`
}

// TableName implements Entity
func (OutMessage) TableName() string { return string(TableOutMessages) }

// ExceptionEntity holds the fields shared by inbound and outbound exceptions
type ExceptionEntity struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" bson:"_id" json:"id"`
	EbmsRefToMessageID string    `gorm:"column:ebms_ref_to_message_id;size:255;index" bson:"ebms_ref_to_message_id,omitempty" json:"ebmsRefToMessageId,omitempty"`
	MessageLocation    string    `gorm:"column:message_location;size:1024" bson:"message_location,omitempty" json:"messageLocation,omitempty"`
	Exception          string    `gorm:"column:exception;type:text" bson:"exception" json:"exception"`
	PModeID            string    `gorm:"column:pmode_id;size:255" bson:"pmode_id,omitempty" json:"pmodeId,omitempty"`
	PMode              string    `gorm:"column:pmode;type:text" bson:"pmode,omitempty" json:"-"`
	Operation          Operation `gorm:"column:operation;size:32;index" bson:"operation" json:"operation"`
	InsertionTime      time.Time `gorm:"column:insertion_time;index" bson:"insertion_time" json:"insertionTime"`
	ModificationTime   time.Time `gorm:"column:modification_time" bson:"modification_time" json:"modificationTime"`
}

// GetID returns the record id
func (e *ExceptionEntity) GetID() int64 { return e.ID }

// SetID assigns the record id
func (e *ExceptionEntity) SetID(id int64) { e.ID = id }

// Stamp sets the insertion time when unset and the modification time
func (e *ExceptionEntity) Stamp(now time.Time) {
	if e.InsertionTime.IsZero() {
		e.InsertionTime = now
	}
	e.ModificationTime = now
}

// Lock moves the record to the Operation named by value. Sentinel and
// unparsable values leave the record unchanged. Like MessageEntity.Lock it
// does not check the transition.
func (e *ExceptionEntity) Lock(value string) {
	if op := ParseOperation(value); !op.IsSentinel() {
		e.Operation = op
	}
}

// InException records a failure while receiving or processing inbound messages
type InException struct {
	ExceptionEntity `bson:",inline"`
}

// TableName implements Entity
func (InException) TableName() string { return string(TableInExceptions) }

// OutException records a failure while submitting or sending messages
type OutException struct {
	ExceptionEntity `bson:",inline"`
}

// TableName implements Entity
func (OutException) TableName() string { return string(TableOutExceptions) }

// ReceptionAwareness tracks a sent user message until its receipt arrives
type ReceptionAwareness struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" bson:"_id" json:"id"`
	RefToOutMessageID  int64           `gorm:"column:ref_to_out_message_id;index" bson:"ref_to_out_message_id" json:"refToOutMessageId"`
	RefToEbmsMessageID string          `gorm:"column:ref_to_ebms_message_id;size:255" bson:"ref_to_ebms_message_id" json:"refToEbmsMessageId"`
	Status             ReceptionStatus `gorm:"column:status;size:32;index" bson:"status" json:"status"`
	CurrentRetryCount  int             `gorm:"column:current_retry_count" bson:"current_retry_count" json:"currentRetryCount"`
	TotalRetryCount    int             `gorm:"column:total_retry_count" bson:"total_retry_count" json:"totalRetryCount"`
	RetryInterval      time.Duration   `gorm:"column:retry_interval" bson:"retry_interval" json:"retryInterval"`
	LastSendTime       time.Time       `gorm:"column:last_send_time" bson:"last_send_time" json:"lastSendTime"`
	InsertionTime      time.Time       `gorm:"column:insertion_time;index" bson:"insertion_time" json:"insertionTime"`
	ModificationTime   time.Time       `gorm:"column:modification_time" bson:"modification_time" json:"modificationTime"`
}

// GetID returns the record id
func (r *ReceptionAwareness) GetID() int64 { return r.ID }

// SetID assigns the record id
func (r *ReceptionAwareness) SetID(id int64) { r.ID = id }

// Stamp sets the insertion time when unset and the modification time
func (r *ReceptionAwareness) Stamp(now time.Time) {
	if r.InsertionTime.IsZero() {
		r.InsertionTime = now
	}
	r.ModificationTime = now
}

// TableName implements Entity
func (ReceptionAwareness) TableName() string { return string(TableReceptionAwareness) }

// Due reports whether the retry interval has elapsed since the last send
func (r *ReceptionAwareness) Due(now time.Time) bool {
	return !now.Before(r.LastSendTime.Add(r.RetryInterval))
}

// Exhausted reports whether every configured resend has been used
func (r *ReceptionAwareness) Exhausted() bool {
	return r.CurrentRetryCount >= r.TotalRetryCount
}

// RetryReliability schedules retries of a delivery or notification. Exactly
// one of the RefTo ids is set.
type RetryReliability struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" bson:"_id" json:"id"`
	RefToInMessageID    int64           `gorm:"column:ref_to_in_message_id;index" bson:"ref_to_in_message_id,omitempty" json:"refToInMessageId,omitempty"`
	RefToOutMessageID   int64           `gorm:"column:ref_to_out_message_id;index" bson:"ref_to_out_message_id,omitempty" json:"refToOutMessageId,omitempty"`
	RefToInExceptionID  int64           `gorm:"column:ref_to_in_exception_id;index" bson:"ref_to_in_exception_id,omitempty" json:"refToInExceptionId,omitempty"`
	RefToOutExceptionID int64           `gorm:"column:ref_to_out_exception_id;index" bson:"ref_to_out_exception_id,omitempty" json:"refToOutExceptionId,omitempty"`
	RetryType           RetryType       `gorm:"column:retry_type;size:32" bson:"retry_type" json:"retryType"`
	Status              ReceptionStatus `gorm:"column:status;size:32;index" bson:"status" json:"status"`
	CurrentRetryCount   int             `gorm:"column:current_retry_count" bson:"current_retry_count" json:"currentRetryCount"`
	MaxRetryCount       int             `gorm:"column:max_retry_count" bson:"max_retry_count" json:"maxRetryCount"`
	RetryInterval       time.Duration   `gorm:"column:retry_interval" bson:"retry_interval" json:"retryInterval"`
	LastRetryTime       time.Time       `gorm:"column:last_retry_time" bson:"last_retry_time" json:"lastRetryTime"`
	InsertionTime       time.Time       `gorm:"column:insertion_time;index" bson:"insertion_time" json:"insertionTime"`
	ModificationTime    time.Time       `gorm:"column:modification_time" bson:"modification_time" json:"modificationTime"`
}

// GetID returns the record id
func (r *RetryReliability) GetID() int64 { return r.ID }

// SetID assigns the record id
func (r *RetryReliability) SetID(id int64) { r.ID = id }

// Stamp sets the insertion time when unset and the modification time
func (r *RetryReliability) Stamp(now time.Time) {
	if r.InsertionTime.IsZero() {
		r.InsertionTime = now
	}
	r.ModificationTime = now
}

// TableName implements Entity
func (RetryReliability) TableName() string { return string(TableRetryReliability) }

// Target returns the table and id of the record this retry refers to
func (r *RetryReliability) Target() (Table, int64) {
	switch {
	case r.RefToInMessageID != 0:
		return TableInMessages, r.RefToInMessageID
	case r.RefToOutMessageID != 0:
		return TableOutMessages, r.RefToOutMessageID
	case r.RefToInExceptionID != 0:
		return TableInExceptions, r.RefToInExceptionID
	case r.RefToOutExceptionID != 0:
		return TableOutExceptions, r.RefToOutExceptionID
	}
	return "", 0
}

// Due reports whether the retry interval has elapsed since the last attempt
func (r *RetryReliability) Due(now time.Time) bool {
	return !now.Before(r.LastRetryTime.Add(r.RetryInterval))
}

// Exhausted reports whether every configured retry has been used
func (r *RetryReliability) Exhausted() bool {
	return r.CurrentRetryCount >= r.MaxRetryCount
}
