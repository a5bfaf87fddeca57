package entities

import "strings"

// Operation is the processing state of a persisted record. Agents find work
// by polling for one Operation value and claim it by moving the record to
// the matching in-progress value.
//
// The usual paths through the states are
//
//	ToBeProcessed -> Processing -> ToBeSent | ToBeDelivered | ToBeForwarded
//	ToBeSent -> Sending -> Sent
//	ToBeDelivered -> Delivering -> Delivered
//	ToBeForwarded -> Forwarding -> Forwarded
//	ToBeNotified -> Notifying -> Notified
//	Sending | Delivering | Notifying -> ToBeRetried -> ToBeSent | ToBeDelivered | ToBeNotified
//	any state -> DeadLettered
//
// Sent returns to ToBeSent when reception awareness resends a message
// without a receipt.
type Operation string

// Sentinels mark records that are not subject to the processing state machine
const (
	NotApplicable Operation = "NotApplicable"
	Undetermined  Operation = "Undetermined"
)

// Processing states
const (
	ToBeProcessed Operation = "ToBeProcessed"
	Processing    Operation = "Processing"

	ToBeSent Operation = "ToBeSent"
	Sending  Operation = "Sending"
	Sent     Operation = "Sent"

	ToBeDelivered Operation = "ToBeDelivered"
	Delivering    Operation = "Delivering"
	Delivered     Operation = "Delivered"

	ToBeForwarded Operation = "ToBeForwarded"
	Forwarding    Operation = "Forwarding"
	Forwarded     Operation = "Forwarded"

	ToBeNotified Operation = "ToBeNotified"
	Notifying    Operation = "Notifying"
	Notified     Operation = "Notified"

	ToBeRetried  Operation = "ToBeRetried"
	DeadLettered Operation = "DeadLettered"
)

var operations = map[string]Operation{}

func init() {
	for _, op := range []Operation{
		NotApplicable, Undetermined,
		ToBeProcessed, Processing,
		ToBeSent, Sending, Sent,
		ToBeDelivered, Delivering, Delivered,
		ToBeForwarded, Forwarding, Forwarded,
		ToBeNotified, Notifying, Notified,
		ToBeRetried, DeadLettered,
	} {
		operations[strings.ToLower(string(op))] = op
	}
}

// ParseOperation maps text to an Operation, case-insensitively. Unknown or
// empty text yields NotApplicable.
func ParseOperation(s string) Operation {
	if op, ok := operations[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op
	}
	return NotApplicable
}

// IsSentinel reports whether op is NotApplicable or Undetermined
func (op Operation) IsSentinel() bool {
	return op == NotApplicable || op == Undetermined
}

// CleanableOperations are the terminal or benign states whose records may be
// removed once they are older than the retention period.
func CleanableOperations() []Operation {
	return []Operation{Delivered, Forwarded, Notified, Sent, NotApplicable, Undetermined}
}

// InStatus is the business status of a received message
type InStatus string

const (
	InReceived        InStatus = "Received"
	InCreated         InStatus = "Created"
	InDelivered       InStatus = "Delivered"
	InNotified        InStatus = "Notified"
	InStatusException InStatus = "Exception"
)

// OutStatus is the business status of a sent message
type OutStatus string

const (
	OutCreated         OutStatus = "Created"
	OutSent            OutStatus = "Sent"
	OutAck             OutStatus = "Ack"
	OutNack            OutStatus = "Nack"
	OutStatusException OutStatus = "Exception"
)

// ReceptionStatus is the state of a reception awareness or retry record
type ReceptionStatus string

const (
	ReceptionPending   ReceptionStatus = "Pending"
	ReceptionBusy      ReceptionStatus = "Busy"
	ReceptionCompleted ReceptionStatus = "Completed"
)

// MessageType is the kind of ebMS message unit a record holds
type MessageType string

const (
	UserMessageType MessageType = "UserMessage"
	ReceiptType     MessageType = "Receipt"
	ErrorType       MessageType = "Error"
)

// MEP is the message exchange pattern binding
type MEP string

const (
	Push MEP = "Push"
	Pull MEP = "Pull"
)

// RetryType says what a retry record retries
type RetryType string

const (
	RetryDelivery     RetryType = "Delivery"
	RetryNotification RetryType = "Notification"
)
