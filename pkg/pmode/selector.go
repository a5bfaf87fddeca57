package pmode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

// Rule weights
const (
	WeightPModeID            = 30
	WeightAgreementRef       = 4
	WeightPartyInfoFull      = 16
	WeightPartyInfoIDs       = 15
	WeightPartyInfoToOnly    = 8
	WeightPartyInfoFromOnly  = 7
	WeightPartyInfoRoleOnly  = 1
	WeightUndefinedPartyInfo = 7
	WeightServiceAction      = 3
)

var (
	// ErrPModeConfiguration is wrapped by every selection failure
	ErrPModeConfiguration = errors.New("pmode configuration error")
	// ErrNoMatchingPMode is returned when no receiving P-Mode scores above zero
	ErrNoMatchingPMode = fmt.Errorf("%w: no matching receiving pmode", ErrPModeConfiguration)
	// ErrAmbiguousPMode is returned when several P-Modes share the top score
	ErrAmbiguousPMode = fmt.Errorf("%w: ambiguous receiving pmode", ErrPModeConfiguration)
)

// Rule awards points for one facet of a user message matching a P-Mode.
// Rules must not panic on missing data; absent criteria score zero.
type Rule interface {
	Name() string
	Score(pm *ReceivingProcessingMode, um *ebms.UserMessage) int
}

// RuleFunc adapts a function to the Rule interface
type RuleFunc struct {
	RuleName string
	Fn       func(pm *ReceivingProcessingMode, um *ebms.UserMessage) int
}

// Name returns the rule name
func (r RuleFunc) Name() string { return r.RuleName }

// Score calls the wrapped function
func (r RuleFunc) Score(pm *ReceivingProcessingMode, um *ebms.UserMessage) int {
	return r.Fn(pm, um)
}

// DefaultRules returns the standard rule set
func DefaultRules() []Rule {
	return []Rule{
		PModeIDRule{},
		AgreementRefRule{},
		PartyInfoRule{},
		UndefinedPartyInfoRule{},
		ServiceActionRule{},
	}
}

// Selector picks the receiving P-Mode with the strictly highest score
type Selector struct {
	rules []Rule
}

// NewSelector creates a selector; without rules DefaultRules is used
func NewSelector(rules ...Rule) *Selector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Selector{rules: rules}
}

// Score returns the total points a P-Mode gets for a message
func (s *Selector) Score(pm *ReceivingProcessingMode, um *ebms.UserMessage) int {
	total := 0
	for _, r := range s.rules {
		total += r.Score(pm, um)
	}
	return total
}

// Select returns the best matching P-Mode. Ties and all-zero scores are
// reported as ErrAmbiguousPMode and ErrNoMatchingPMode.
func (s *Selector) Select(pmodes []*ReceivingProcessingMode, um *ebms.UserMessage) (*ReceivingProcessingMode, error) {
	var (
		best *ReceivingProcessingMode
		top  int
		tied []string
	)
	for _, pm := range pmodes {
		if pm == nil {
			continue
		}
		score := s.Score(pm, um)
		switch {
		case score > top:
			best, top, tied = pm, score, []string{pm.ID}
		case score == top && score > 0:
			tied = append(tied, pm.ID)
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w for message %s", ErrNoMatchingPMode, um.MessageID())
	}
	if len(tied) > 1 {
		return nil, fmt.Errorf("%w for message %s: %s score %d", ErrAmbiguousPMode, um.MessageID(), strings.Join(tied, ", "), top)
	}
	return best, nil
}

// PModeIDRule matches the P-Mode id carried on the message's AgreementRef
type PModeIDRule struct{}

// Name returns the rule name
func (PModeIDRule) Name() string { return "PModeId" }

// Score awards WeightPModeID when AgreementRef/@pmode equals the P-Mode id
func (PModeIDRule) Score(pm *ReceivingProcessingMode, um *ebms.UserMessage) int {
	if agreementOf(pm) == nil {
		return 0
	}
	ref := messageAgreement(um)
	if ref == nil || ref.Pmode == "" || ref.Pmode != pm.ID {
		return 0
	}
	return WeightPModeID
}

// AgreementRefRule matches agreement name and type
type AgreementRefRule struct{}

// Name returns the rule name
func (AgreementRefRule) Name() string { return "AgreementRef" }

// Score awards WeightAgreementRef when name and type are equal
func (AgreementRefRule) Score(pm *ReceivingProcessingMode, um *ebms.UserMessage) int {
	want := agreementOf(pm)
	got := messageAgreement(um)
	if want == nil || got == nil || want.Value == "" {
		return 0
	}
	if want.Value != got.Value || want.Type != got.Type {
		return 0
	}
	return WeightAgreementRef
}

// PartyInfoRule scores sender and receiver party constraints
type PartyInfoRule struct{}

// Name returns the rule name
func (PartyInfoRule) Name() string { return "PartyInfo" }

// Score awards:
//
//	16  both parties specified, ids and roles match
//	15  both parties specified, ids match but a role does not
//	 8  only the receiver is specified and matches
//	 7  only the sender is specified and matches
//	 1  a role matches without an id match
func (PartyInfoRule) Score(pm *ReceivingProcessingMode, um *ebms.UserMessage) int {
	info := pm.MessagePackaging.PartyInfo
	if info.IsEmpty() || um == nil {
		return 0
	}
	from, to := info.FromParty, info.ToParty
	sender, receiver := um.Sender(), um.Receiver()
	hasFrom, hasTo := !from.IsEmpty(), !to.IsEmpty()

	switch {
	case hasFrom && hasTo:
		if partyMatches(from, sender) && partyMatches(to, receiver) {
			return WeightPartyInfoFull
		}
		if from.SameIDs(sender) && to.SameIDs(receiver) {
			return WeightPartyInfoIDs
		}
	case hasTo:
		if partyMatches(to, receiver) {
			return WeightPartyInfoToOnly
		}
	case hasFrom:
		if partyMatches(from, sender) {
			return WeightPartyInfoFromOnly
		}
	}

	if from.SameRole(sender) || to.SameRole(receiver) {
		return WeightPartyInfoRoleOnly
	}
	return 0
}

// partyMatches reports whether every facet the P-Mode specifies for a party
// is present on the message party.
func partyMatches(want, got *ebms.Party) bool {
	if want.IsEmpty() {
		return false
	}
	if want.HasIDs() && !want.SameIDs(got) {
		return false
	}
	if want.Role != "" && want.Role != got.Role {
		return false
	}
	return true
}

// UndefinedPartyInfoRule rewards P-Modes without party constraints
type UndefinedPartyInfoRule struct{}

// Name returns the rule name
func (UndefinedPartyInfoRule) Name() string { return "UndefinedPartyInfo" }

// Score awards WeightUndefinedPartyInfo when the P-Mode constrains no party
func (UndefinedPartyInfoRule) Score(pm *ReceivingProcessingMode, _ *ebms.UserMessage) int {
	if pm.MessagePackaging.PartyInfo.IsEmpty() {
		return WeightUndefinedPartyInfo
	}
	return 0
}

// ServiceActionRule matches service value, service type and action
type ServiceActionRule struct{}

// Name returns the rule name
func (ServiceActionRule) Name() string { return "ServiceAction" }

// Score awards WeightServiceAction when service and action are equal
func (ServiceActionRule) Score(pm *ReceivingProcessingMode, um *ebms.UserMessage) int {
	ci := pm.MessagePackaging.CollaborationInfo
	if ci == nil || ci.Service == nil || ci.Service.Value == "" || ci.Action == "" {
		return 0
	}
	if um == nil || um.CollaborationInfo == nil {
		return 0
	}
	got := um.CollaborationInfo
	if got.Service.Value != ci.Service.Value || got.Service.Type != ci.Service.Type || got.Action != ci.Action {
		return 0
	}
	return WeightServiceAction
}

func agreementOf(pm *ReceivingProcessingMode) *AgreementReference {
	if pm == nil || pm.MessagePackaging.CollaborationInfo == nil {
		return nil
	}
	return pm.MessagePackaging.CollaborationInfo.AgreementReference
}

func messageAgreement(um *ebms.UserMessage) *ebms.AgreementRef {
	if um == nil || um.CollaborationInfo == nil {
		return nil
	}
	return um.CollaborationInfo.AgreementRef
}
