package ebms

import (
	"encoding/xml"
	"time"
)

// Namespace constants for AS4/ebMS3
const (
	NsSOAPEnv = "http://www.w3.org/2003/05/soap-envelope"
	NsEbMS    = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
)

// DefaultRole is the ebMS default party role
const DefaultRole = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultRole"

// DefaultMPC is the default message partition channel
const DefaultMPC = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultMPC"

// Test service and action
const (
	TestService = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/service"
	TestAction  = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/test"
)

// Envelope is the SOAP 1.2 envelope on the wire
type Envelope struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Header  *Header  `xml:"http://www.w3.org/2003/05/soap-envelope Header"`
	Body    *Body    `xml:"http://www.w3.org/2003/05/soap-envelope Body"`
}

// Header carries the ebMS Messaging header
type Header struct {
	Messaging *Messaging `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
}

// Body is empty for AS4; payloads travel as MIME parts
type Body struct{}

// Messaging holds every message unit of one envelope
type Messaging struct {
	UserMessage   []*UserMessage   `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ UserMessage,omitempty"`
	SignalMessage []*SignalMessage `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ SignalMessage,omitempty"`
}

// MessageInfo contains message identification and timestamps
type MessageInfo struct {
	Timestamp      time.Time `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Timestamp"`
	MessageId      string    `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ MessageId"`
	RefToMessageId string    `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ RefToMessageId,omitempty"`
}

// UserMessage is an ebMS3 business message unit
type UserMessage struct {
	MPC               string             `xml:"mpc,attr,omitempty"`
	MessageInfo       *MessageInfo       `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ MessageInfo"`
	PartyInfo         *PartyInfo         `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PartyInfo"`
	CollaborationInfo *CollaborationInfo `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ CollaborationInfo"`
	MessageProperties *MessageProperties `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ MessageProperties,omitempty"`
	PayloadInfo       *PayloadInfo       `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PayloadInfo,omitempty"`
}

// PartyInfo contains sender and receiver party information
type PartyInfo struct {
	From *Party `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ From"`
	To   *Party `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ To"`
}

// Party is a messaging party: one or more ids plus a role
type Party struct {
	PartyId []PartyId `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PartyId" yaml:"partyIds"`
	Role    string    `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Role" yaml:"role"`
}

// PartyId is a party identifier with optional type
type PartyId struct {
	Type  string `xml:"type,attr,omitempty" yaml:"type,omitempty"`
	Value string `xml:",chardata" yaml:"id"`
}

// IsEmpty reports whether the party has neither ids nor role
func (p *Party) IsEmpty() bool {
	return p == nil || (len(p.PartyId) == 0 && p.Role == "")
}

// HasIDs reports whether the party carries at least one non-empty id
func (p *Party) HasIDs() bool {
	if p == nil {
		return false
	}
	for _, id := range p.PartyId {
		if id.Value != "" {
			return true
		}
	}
	return false
}

// SameIDs reports whether both parties carry the same set of party ids.
func (p *Party) SameIDs(other *Party) bool {
	if !p.HasIDs() || !other.HasIDs() || len(p.PartyId) != len(other.PartyId) {
		return false
	}
	for _, id := range p.PartyId {
		found := false
		for _, o := range other.PartyId {
			if id.Value == o.Value && id.Type == o.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SameRole reports whether both parties declare the same non-empty role
func (p *Party) SameRole(other *Party) bool {
	return p != nil && other != nil && p.Role != "" && p.Role == other.Role
}

// Equal reports whether both ids and role match
func (p *Party) Equal(other *Party) bool {
	return p.SameIDs(other) && p.SameRole(other)
}

// CollaborationInfo contains agreement, service and action
type CollaborationInfo struct {
	AgreementRef   *AgreementRef `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ AgreementRef,omitempty"`
	Service        Service       `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Service"`
	Action         string        `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Action"`
	ConversationId string        `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ ConversationId"`
}

// AgreementRef references a business agreement
type AgreementRef struct {
	Type  string `xml:"type,attr,omitempty"`
	Pmode string `xml:"pmode,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Service identifies the service
type Service struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// MessageProperties contains custom message properties
type MessageProperties struct {
	Property []Property `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Property"`
}

// Property is a name/value message or part property
type Property struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// PayloadInfo references the payload parts
type PayloadInfo struct {
	PartInfo []PartInfo `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PartInfo"`
}

// PartInfo describes a payload part
type PartInfo struct {
	Href           string          `xml:"href,attr,omitempty"`
	PartProperties *PartProperties `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PartProperties,omitempty"`
}

// PartProperties contains properties for a payload part
type PartProperties struct {
	Property []Property `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Property"`
}

// SignalMessage is an ebMS3 signal: receipt, error(s) or pull request
type SignalMessage struct {
	MessageInfo *MessageInfo   `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ MessageInfo"`
	PullRequest *PullRequest   `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PullRequest,omitempty"`
	Receipt     *Receipt       `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Receipt,omitempty"`
	Errors      []*ErrorDetail `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Error,omitempty"`
}

// PullRequest asks the responding MSH for a message on an MPC
type PullRequest struct {
	MPC string `xml:"mpc,attr,omitempty"`
}

// Receipt acknowledges a user message
type Receipt struct {
	Any []byte `xml:",innerxml"`
}

// ErrorDetail is one ebMS error line
type ErrorDetail struct {
	ErrorCode           string `xml:"errorCode,attr"`
	Severity            string `xml:"severity,attr"`
	ShortDescription    string `xml:"shortDescription,attr,omitempty"`
	Category            string `xml:"category,attr,omitempty"`
	Origin              string `xml:"origin,attr,omitempty"`
	RefToMessageInError string `xml:"refToMessageInError,attr,omitempty"`
	Description         string `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Description,omitempty"`
	ErrorDetail         string `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ ErrorDetail,omitempty"`
}
