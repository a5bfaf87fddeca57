package pmode

import (
	"time"

	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

// MEP binding values
const (
	MEPBindingPush = "Push"
	MEPBindingPull = "Pull"
)

// ReplyPattern says how a receipt or error is returned to the sender
type ReplyPattern string

const (
	// ReplyResponse returns the signal on the HTTP response
	ReplyResponse ReplyPattern = "Response"
	// ReplyCallback sends the signal asynchronously using a sending P-Mode
	ReplyCallback ReplyPattern = "Callback"
)

// SendingProcessingMode governs how outbound user messages are packaged and sent
type SendingProcessingMode struct {
	ID            string `yaml:"id"`
	AllowOverride bool   `yaml:"allowOverride,omitempty"`
	MEPBinding    string `yaml:"mepBinding,omitempty"`

	PushConfiguration *PushConfiguration `yaml:"pushConfiguration,omitempty"`
	DynamicDiscovery  *DynamicDiscovery  `yaml:"dynamicDiscovery,omitempty"`
	Reliability       *SendReliability   `yaml:"reliability,omitempty"`

	// Notification of the original producer about receipts, errors and
	// processing exceptions of messages sent with this P-Mode.
	ReceiptHandling   *Notification `yaml:"receiptHandling,omitempty"`
	ErrorHandling     *Notification `yaml:"errorHandling,omitempty"`
	ExceptionHandling *Notification `yaml:"exceptionHandling,omitempty"`

	MessagePackaging SendPackaging `yaml:"messagePackaging"`
}

// PushConfiguration holds the remote endpoint of a push exchange
type PushConfiguration struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	TLS     *TLS          `yaml:"tls,omitempty"`
}

// DynamicDiscovery looks up the push endpoint of the receiving party at
// submit time, through BDXL or a fixed SMP. The schemes override the type
// attributes of the ToParty id and the service.
type DynamicDiscovery struct {
	SMLDomain         string   `yaml:"smlDomain,omitempty"`
	SMPURL            string   `yaml:"smpUrl,omitempty"`
	DNSServer         string   `yaml:"dnsServer,omitempty"`
	TransportProfiles []string `yaml:"transportProfiles,omitempty"`
	ParticipantScheme string   `yaml:"participantScheme,omitempty"`
	DocumentScheme    string   `yaml:"documentScheme,omitempty"`
	ProcessScheme     string   `yaml:"processScheme,omitempty"`
}

// TLS configures the HTTPS client used for pushing
type TLS struct {
	CAFile             string `yaml:"caFile,omitempty"`
	CertFile           string `yaml:"certFile,omitempty"`
	KeyFile            string `yaml:"keyFile,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify,omitempty"`
}

// SendReliability holds sender side reliability parameters
type SendReliability struct {
	ReceptionAwareness ReceptionAwareness `yaml:"receptionAwareness"`
}

// ReceptionAwareness configures resending of messages for which no receipt arrived
type ReceptionAwareness struct {
	Enabled       bool          `yaml:"enabled"`
	RetryCount    int           `yaml:"retryCount"`
	RetryInterval time.Duration `yaml:"retryInterval"`
}

// Notification configures whether and how a business application is notified
type Notification struct {
	Notify      bool              `yaml:"notify"`
	Method      *Method           `yaml:"notifyMethod,omitempty"`
	Reliability *RetryReliability `yaml:"reliability,omitempty"`
}

// Method selects a deliver or notify sender and its parameters
type Method struct {
	Type       string            `yaml:"type"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// Parameter returns a method parameter or def when it is not set
func (m *Method) Parameter(name, def string) string {
	if m == nil {
		return def
	}
	if v, ok := m.Parameters[name]; ok && v != "" {
		return v
	}
	return def
}

// RetryReliability configures retries of deliveries and notifications
type RetryReliability struct {
	Enabled       bool          `yaml:"enabled"`
	RetryCount    int           `yaml:"retryCount"`
	RetryInterval time.Duration `yaml:"retryInterval"`
}

// SendPackaging describes how an outbound user message is built
type SendPackaging struct {
	MPC               string             `yaml:"mpc,omitempty"`
	UseAS4Compression bool               `yaml:"useAS4Compression,omitempty"`
	PartyInfo         *PartyInfo         `yaml:"partyInfo,omitempty"`
	CollaborationInfo *CollaborationInfo `yaml:"collaborationInfo,omitempty"`
	MessageProperties []ebms.Property    `yaml:"messageProperties,omitempty"`
}

// PartyInfo holds the sender and receiver constraints of a P-Mode
type PartyInfo struct {
	FromParty *ebms.Party `yaml:"fromParty,omitempty"`
	ToParty   *ebms.Party `yaml:"toParty,omitempty"`
}

// IsEmpty reports whether neither party is constrained
func (p *PartyInfo) IsEmpty() bool {
	return p == nil || (p.FromParty.IsEmpty() && p.ToParty.IsEmpty())
}

// CollaborationInfo holds the agreement, service and action of a P-Mode
type CollaborationInfo struct {
	AgreementReference *AgreementReference `yaml:"agreementReference,omitempty"`
	Service            *Service            `yaml:"service,omitempty"`
	Action             string              `yaml:"action,omitempty"`
}

// AgreementReference identifies the business agreement
type AgreementReference struct {
	Value string `yaml:"value"`
	Type  string `yaml:"type,omitempty"`

	// PModeID, when set, is put on outbound AgreementRef elements
	PModeID string `yaml:"pmodeId,omitempty"`
}

// Service identifies a business service
type Service struct {
	Value string `yaml:"value"`
	Type  string `yaml:"type,omitempty"`
}

// ReceivingProcessingMode governs how an inbound user message is processed
type ReceivingProcessingMode struct {
	ID string `yaml:"id"`

	Reliability       *ReceiveReliability `yaml:"reliability,omitempty"`
	ReplyHandling     ReplyHandling       `yaml:"replyHandling"`
	ExceptionHandling *Notification       `yaml:"exceptionHandling,omitempty"`
	MessagePackaging  ReceivePackaging    `yaml:"messagePackaging"`
	MessageHandling   MessageHandling     `yaml:"messageHandling"`
}

// ReceiveReliability holds receiver side reliability parameters
type ReceiveReliability struct {
	DuplicateElimination bool `yaml:"duplicateElimination"`
}

// ReplyHandling says how receipts and errors are returned
type ReplyHandling struct {
	ReplyPattern ReplyPattern `yaml:"replyPattern,omitempty"`

	// SendingPMode is used to push callback signals
	SendingPMode string `yaml:"sendingPMode,omitempty"`
}

// ReceivePackaging holds the matching criteria of a receiving P-Mode
type ReceivePackaging struct {
	PartyInfo         *PartyInfo         `yaml:"partyInfo,omitempty"`
	CollaborationInfo *CollaborationInfo `yaml:"collaborationInfo,omitempty"`
}

// MessageHandling says whether received messages are delivered or forwarded
type MessageHandling struct {
	Deliver *Deliver `yaml:"deliver,omitempty"`
	Forward *Forward `yaml:"forward,omitempty"`
}

// Deliver configures delivery to the business application
type Deliver struct {
	Enabled       bool              `yaml:"enabled"`
	DeliverMethod Method            `yaml:"deliverMethod"`
	Reliability   *RetryReliability `yaml:"reliability,omitempty"`
}

// Forward configures forwarding to another MSH
type Forward struct {
	SendingPMode string `yaml:"sendingPMode"`
}

// Replies returns the configured reply pattern, Response when unset
func (pm *ReceivingProcessingMode) Replies() ReplyPattern {
	if pm.ReplyHandling.ReplyPattern == "" {
		return ReplyResponse
	}
	return pm.ReplyHandling.ReplyPattern
}

// Delivers reports whether received messages are delivered
func (pm *ReceivingProcessingMode) Delivers() bool {
	return pm.MessageHandling.Deliver != nil && pm.MessageHandling.Deliver.Enabled
}

// Forwards reports whether received messages are forwarded
func (pm *ReceivingProcessingMode) Forwards() bool {
	return pm.MessageHandling.Forward != nil && pm.MessageHandling.Forward.SendingPMode != ""
}

// EliminatesDuplicates reports whether duplicate detection is switched on
func (pm *ReceivingProcessingMode) EliminatesDuplicates() bool {
	return pm.Reliability != nil && pm.Reliability.DuplicateElimination
}

// NotifiesExceptions reports whether consumers are notified about exceptions
func (pm *ReceivingProcessingMode) NotifiesExceptions() bool {
	return pm != nil && pm.ExceptionHandling != nil && pm.ExceptionHandling.Notify
}

// Binding returns the MEP binding, Push when unset
func (pm *SendingProcessingMode) Binding() string {
	if pm.MEPBinding == "" {
		return MEPBindingPush
	}
	return pm.MEPBinding
}

// URL returns the push endpoint or an empty string
func (pm *SendingProcessingMode) URL() string {
	if pm.PushConfiguration == nil {
		return ""
	}
	return pm.PushConfiguration.URL
}

// Discovers reports whether the push endpoint is discovered at submit time
func (pm *SendingProcessingMode) Discovers() bool {
	dd := pm.DynamicDiscovery
	return dd != nil && (dd.SMLDomain != "" || dd.SMPURL != "")
}

// ReceptionAwarenessEnabled reports whether sent messages await receipts
func (pm *SendingProcessingMode) ReceptionAwarenessEnabled() bool {
	return pm != nil && pm.Reliability != nil && pm.Reliability.ReceptionAwareness.Enabled
}

// NotifiesReceipts reports whether producers are notified about receipts
func (pm *SendingProcessingMode) NotifiesReceipts() bool {
	return pm != nil && pm.ReceiptHandling != nil && pm.ReceiptHandling.Notify
}

// NotifiesErrors reports whether producers are notified about ebMS errors
func (pm *SendingProcessingMode) NotifiesErrors() bool {
	return pm != nil && pm.ErrorHandling != nil && pm.ErrorHandling.Notify
}

// NotifiesExceptions reports whether producers are notified about exceptions
func (pm *SendingProcessingMode) NotifiesExceptions() bool {
	return pm != nil && pm.ExceptionHandling != nil && pm.ExceptionHandling.Notify
}
