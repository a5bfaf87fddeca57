package runtime

import (
	"fmt"
	"sort"

	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/storage"
)

// Definition is the resolved recipe of an agent
type Definition struct {
	Name             string
	Receiver         string
	ReceiverSettings Settings
	Transformer      string
	Steps            []string
	ErrorSteps       []string
	ExceptionHandler string
}

// Agent types with a default definition
const (
	TypeSubmit             = "Submit"
	TypeOutboundProcessing = "OutboundProcessing"
	TypeSend               = "Send"
	TypeReceive            = "Receive"
	TypeDeliver            = "Deliver"
	TypeForward            = "Forward"
	TypeNotifyMessage      = "NotifyMessage"
	TypeNotifyInException  = "NotifyInException"
	TypeNotifyOutException = "NotifyOutException"
	TypeReceptionAwareness = "ReceptionAwareness"
	TypeRetry              = "Retry"
)

func polling(table entities.Table, field, value, lockTo string) Settings {
	return Settings{"table": string(table), "field": field, "value": value, "lockTo": lockTo}
}

func onOperation(table entities.Table, value, lockTo entities.Operation) Settings {
	return polling(table, storage.FieldOperation, string(value), string(lockTo))
}

func onStatus(table entities.Table) Settings {
	return polling(table, storage.FieldStatus, string(entities.ReceptionPending), string(entities.ReceptionBusy))
}

var defaults = map[string]Definition{
	TypeSubmit: {
		Receiver:         ReceiverDirectory,
		ReceiverSettings: Settings{"path": "data/submit", "pattern": "*.xml"},
		Transformer:      "SubmitMessage",
		Steps:            []string{"RetrieveSendingPMode", "CreateAS4Message", "DynamicDiscovery", "StoreAS4Message"},
		ExceptionHandler: HandlerOutbound,
	},
	TypeOutboundProcessing: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onOperation(entities.TableOutMessages, entities.ToBeProcessed, entities.Processing),
		Transformer:      "OutMessage",
		Steps:            []string{"CompressAttachments", "SetMessageToBeSent"},
		ExceptionHandler: HandlerOutbound,
	},
	TypeSend: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onOperation(entities.TableOutMessages, entities.ToBeSent, entities.Sending),
		Transformer:      "OutMessage",
		Steps:            []string{"SendAS4Message"},
		ExceptionHandler: HandlerOutbound,
	},
	TypeReceive: {
		Receiver:         ReceiverHTTP,
		ReceiverSettings: Settings{"address": ":8080", "path": "/msh"},
		Transformer:      "ReceiveMessage",
		Steps:            []string{"DeserializeMessage", "DeterminePModes", "DecompressAttachments", "StoreReceivedMessage", "CreateReceipt"},
		ErrorSteps:       []string{"CreateError"},
		ExceptionHandler: HandlerInbound,
	},
	TypeDeliver: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onOperation(entities.TableInMessages, entities.ToBeDelivered, entities.Delivering),
		Transformer:      "DeliverMessage",
		Steps:            []string{"SendDeliverMessage"},
		ExceptionHandler: HandlerInbound,
	},
	TypeForward: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onOperation(entities.TableInMessages, entities.ToBeForwarded, entities.Forwarding),
		Transformer:      "ForwardMessage",
		Steps:            []string{"CreateForwardMessage"},
		ExceptionHandler: HandlerInbound,
	},
	TypeNotifyMessage: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onOperation(entities.TableInMessages, entities.ToBeNotified, entities.Notifying),
		Transformer:      "NotifyMessage",
		Steps:            []string{"SendNotifyMessage"},
		ExceptionHandler: HandlerNotify,
	},
	TypeNotifyInException: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onOperation(entities.TableInExceptions, entities.ToBeNotified, entities.Notifying),
		Transformer:      "NotifyMessage",
		Steps:            []string{"SendNotifyMessage"},
		ExceptionHandler: HandlerNotify,
	},
	TypeNotifyOutException: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onOperation(entities.TableOutExceptions, entities.ToBeNotified, entities.Notifying),
		Transformer:      "NotifyMessage",
		Steps:            []string{"SendNotifyMessage"},
		ExceptionHandler: HandlerNotify,
	},
	TypeReceptionAwareness: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onStatus(entities.TableReceptionAwareness),
		Transformer:      "ReceptionAwareness",
		Steps:            []string{"ReceptionAwarenessUpdate"},
		ExceptionHandler: HandlerOutbound,
	},
	TypeRetry: {
		Receiver:         ReceiverDatastore,
		ReceiverSettings: onStatus(entities.TableRetryReliability),
		Transformer:      "RetryReliability",
		Steps:            []string{"Retry"},
		ExceptionHandler: HandlerInbound,
	},
}

// DefaultTypes lists the agent types with a default definition
func DefaultTypes() []string {
	types := make([]string, 0, len(defaults))
	for t := range defaults {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Resolve merges an agent configuration over the default definition of its
// type. Receiver settings are merged key by key when the receiver type is
// unchanged; an agent of a type without defaults must name every component.
func Resolve(a config.AgentConfig) (Definition, error) {
	def, known := defaults[a.Type]
	def.Name = a.Name
	if def.Name == "" {
		def.Name = a.Type
	}

	if a.Receiver != nil {
		switch {
		case a.Receiver.Type == "" || normalize(a.Receiver.Type) == normalize(def.Receiver):
			def.ReceiverSettings = def.ReceiverSettings.merge(a.Receiver.Settings)
		default:
			def.Receiver = a.Receiver.Type
			def.ReceiverSettings = Settings(nil).merge(a.Receiver.Settings)
		}
	}
	if a.Transformer != "" {
		def.Transformer = a.Transformer
	}
	if a.Steps != nil {
		def.Steps = a.Steps.Normal
		def.ErrorSteps = a.Steps.Error
	}
	if a.ExceptionHandler != "" {
		def.ExceptionHandler = a.ExceptionHandler
	}

	if !known {
		if def.Receiver == "" || def.Transformer == "" || def.ExceptionHandler == "" {
			return Definition{}, fmt.Errorf("agent %s: type %q has no defaults; receiver, transformer and exceptionHandler are required", def.Name, a.Type)
		}
	}
	return def, nil
}

// Definitions resolves the configured agents, adding the default agents
// whose type is not configured when cfg asks for them. Disabled agents are
// left out, and their type is not added either.
func Definitions(cfg *config.Config) ([]Definition, error) {
	var defs []Definition
	configured := make(map[string]bool)
	for _, a := range cfg.Agents {
		configured[a.Type] = true
		if !a.IsEnabled() {
			continue
		}
		def, err := Resolve(a)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if cfg.DefaultAgents() {
		for _, t := range DefaultTypes() {
			if configured[t] {
				continue
			}
			def, _ := Resolve(config.AgentConfig{Type: t})
			defs = append(defs, def)
		}
	}
	return defs, nil
}
