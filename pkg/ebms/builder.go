package ebms

import (
	"time"

	"github.com/google/uuid"
)

// Option configures a UserMessage built by NewUserMessage
type Option func(*UserMessage)

// NewUserMessage creates a UserMessage with a fresh id and conversation id
func NewUserMessage(opts ...Option) *UserMessage {
	um := &UserMessage{
		MessageInfo: &MessageInfo{
			Timestamp: time.Now().UTC(),
			MessageId: NewMessageID(),
		},
		PartyInfo: &PartyInfo{
			From: &Party{},
			To:   &Party{},
		},
		CollaborationInfo: &CollaborationInfo{
			ConversationId: "1",
		},
	}

	for _, opt := range opts {
		opt(um)
	}

	return um
}

// WithMessageID sets the message id
func WithMessageID(id string) Option {
	return func(um *UserMessage) {
		if id != "" {
			um.MessageInfo.MessageId = id
		}
	}
}

// WithRefToMessageID sets RefToMessageId
func WithRefToMessageID(ref string) Option {
	return func(um *UserMessage) {
		um.MessageInfo.RefToMessageId = ref
	}
}

// WithMPC sets the message partition channel
func WithMPC(mpc string) Option {
	return func(um *UserMessage) {
		um.MPC = mpc
	}
}

// WithFrom sets the sender party with a single untyped id
func WithFrom(partyID, role string) Option {
	return func(um *UserMessage) {
		um.PartyInfo.From = &Party{PartyId: []PartyId{{Value: partyID}}, Role: role}
	}
}

// WithTo sets the receiver party with a single untyped id
func WithTo(partyID, role string) Option {
	return func(um *UserMessage) {
		um.PartyInfo.To = &Party{PartyId: []PartyId{{Value: partyID}}, Role: role}
	}
}

// WithSender sets the full sender party
func WithSender(p *Party) Option {
	return func(um *UserMessage) {
		if p != nil {
			um.PartyInfo.From = p
		}
	}
}

// WithReceiver sets the full receiver party
func WithReceiver(p *Party) Option {
	return func(um *UserMessage) {
		if p != nil {
			um.PartyInfo.To = p
		}
	}
}

// WithService sets service value and type
func WithService(value, serviceType string) Option {
	return func(um *UserMessage) {
		um.CollaborationInfo.Service = Service{Value: value, Type: serviceType}
	}
}

// WithAction sets the action
func WithAction(action string) Option {
	return func(um *UserMessage) {
		um.CollaborationInfo.Action = action
	}
}

// WithConversationID sets the conversation id
func WithConversationID(id string) Option {
	return func(um *UserMessage) {
		if id != "" {
			um.CollaborationInfo.ConversationId = id
		}
	}
}

// WithAgreementRef sets the agreement reference
func WithAgreementRef(value, agreementType, pmodeID string) Option {
	return func(um *UserMessage) {
		um.CollaborationInfo.AgreementRef = &AgreementRef{Value: value, Type: agreementType, Pmode: pmodeID}
	}
}

// WithMessageProperty adds a message property
func WithMessageProperty(name, value string) Option {
	return func(um *UserMessage) {
		if um.MessageProperties == nil {
			um.MessageProperties = &MessageProperties{}
		}
		um.MessageProperties.Property = append(um.MessageProperties.Property, Property{
			Name:  name,
			Value: value,
		})
	}
}

// NewReceipt creates a receipt signal for the given message id
func NewReceipt(refMessageID string) *SignalMessage {
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			Timestamp:      time.Now().UTC(),
			MessageId:      NewMessageID(),
			RefToMessageId: refMessageID,
		},
		Receipt: &Receipt{},
	}
}

// NewError creates an error signal for the given message id
func NewError(refMessageID string, code ErrorCode, description string) *SignalMessage {
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			Timestamp:      time.Now().UTC(),
			MessageId:      NewMessageID(),
			RefToMessageId: refMessageID,
		},
		Errors: []*ErrorDetail{code.Detail(refMessageID, description)},
	}
}

// NewMessageID generates a unique RFC 2822 style message id
func NewMessageID() string {
	return uuid.New().String() + "@go-msh"
}
