package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/discovery"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// DynamicDiscoveryStep resolves the push endpoint of the receiving party
// for sending P-Modes with dynamic discovery. The ToParty id is the
// participant, the action the document type and the service the process.
// The context continues with a copy of the P-Mode pointing at the
// discovered URL, so the stored snapshot carries the endpoint.
type DynamicDiscoveryStep struct {
	Deps *Deps
}

// Execute implements msh.Step
func (s *DynamicDiscoveryStep) Execute(ctx context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
	pm := mc.SendingPMode()
	if pm == nil || !pm.Discovers() {
		return msh.Success(mc), nil
	}
	msg := mc.AS4Message()
	if msg == nil || msg.FirstUserMessage() == nil {
		return msh.StepResult{}, errors.New("context has no user message to discover the receiver of")
	}

	q, err := discoveryQuery(msg.FirstUserMessage(), pm.DynamicDiscovery)
	if err != nil {
		return msh.StepResult{}, err
	}
	dd := pm.DynamicDiscovery
	ep, err := s.Deps.discovery().Resolve(ctx, discovery.Config{
		SMLDomain:         dd.SMLDomain,
		SMPURL:            dd.SMPURL,
		DNSServer:         dd.DNSServer,
		TransportProfiles: dd.TransportProfiles,
	}, q)
	if err != nil {
		return msh.StepResult{}, fmt.Errorf("discovering endpoint of %s with pmode %s: %w", q.Participant, pm.ID, err)
	}

	resolved := *pm
	push := pmode.PushConfiguration{}
	if pm.PushConfiguration != nil {
		push = *pm.PushConfiguration
	}
	push.URL = ep.URL
	resolved.PushConfiguration = &push

	s.Deps.logger().Info("endpoint discovered",
		"participant", q.Participant.String(),
		"url", ep.URL,
		"transport_profile", ep.TransportProfile)
	return msh.Success(mc.WithSendingPMode(&resolved)), nil
}

func discoveryQuery(um *ebms.UserMessage, dd *pmode.DynamicDiscovery) (discovery.Query, error) {
	var q discovery.Query
	to := um.Receiver()
	if to == nil || len(to.PartyId) == 0 {
		return q, errors.New("dynamic discovery needs a ToParty id")
	}
	id := to.PartyId[0]
	q.Participant = discovery.Identifier{Scheme: id.Type, Value: id.Value}
	if dd.ParticipantScheme != "" {
		q.Participant.Scheme = dd.ParticipantScheme
	}

	ci := um.CollaborationInfo
	if ci == nil || ci.Action == "" {
		return q, errors.New("dynamic discovery needs an action")
	}
	q.DocumentType = discovery.Identifier{Scheme: dd.DocumentScheme, Value: ci.Action}
	q.Process = discovery.Identifier{Scheme: ci.Service.Type, Value: ci.Service.Value}
	if dd.ProcessScheme != "" {
		q.Process.Scheme = dd.ProcessScheme
	}
	return q, nil
}
