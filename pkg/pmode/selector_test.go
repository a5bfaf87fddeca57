package pmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

func party(id, role string) *ebms.Party {
	p := &ebms.Party{Role: role}
	if id != "" {
		p.PartyId = []ebms.PartyId{{Value: id}}
	}
	return p
}

func message(opts ...ebms.Option) *ebms.UserMessage {
	return ebms.NewUserMessage(opts...)
}

func TestPModeIDRule(t *testing.T) {
	pm := &ReceivingProcessingMode{ID: "pm-1", MessagePackaging: ReceivePackaging{
		CollaborationInfo: &CollaborationInfo{AgreementReference: &AgreementReference{Value: "agr"}},
	}}

	assert.Equal(t, 30, PModeIDRule{}.Score(pm, message(ebms.WithAgreementRef("x", "", "pm-1"))))
	assert.Equal(t, 0, PModeIDRule{}.Score(pm, message(ebms.WithAgreementRef("x", "", "pm-2"))))
	assert.Equal(t, 0, PModeIDRule{}.Score(pm, message()))

	bare := &ReceivingProcessingMode{ID: "pm-1"}
	assert.Equal(t, 0, PModeIDRule{}.Score(bare, message(ebms.WithAgreementRef("x", "", "pm-1"))))
}

func TestAgreementRefRule(t *testing.T) {
	pm := &ReceivingProcessingMode{ID: "pm", MessagePackaging: ReceivePackaging{
		CollaborationInfo: &CollaborationInfo{AgreementReference: &AgreementReference{Value: "agr", Type: "t"}},
	}}

	assert.Equal(t, 4, AgreementRefRule{}.Score(pm, message(ebms.WithAgreementRef("agr", "t", ""))))
	assert.Equal(t, 0, AgreementRefRule{}.Score(pm, message(ebms.WithAgreementRef("agr", "other", ""))))
	assert.Equal(t, 0, AgreementRefRule{}.Score(pm, message(ebms.WithAgreementRef("other", "t", ""))))
	assert.Equal(t, 0, AgreementRefRule{}.Score(pm, message()))
}

func TestRules_AbsentCollaborationInfoScoresZero(t *testing.T) {
	pms := []*ReceivingProcessingMode{
		{ID: "a"},
		{ID: "b", MessagePackaging: ReceivePackaging{CollaborationInfo: &CollaborationInfo{}}},
	}
	ums := []*ebms.UserMessage{
		{},
		message(),
		message(ebms.WithAgreementRef("agr", "t", "a")),
		nil,
	}
	for _, pm := range pms {
		for _, um := range ums {
			assert.NotPanics(t, func() {
				assert.Equal(t, 0, PModeIDRule{}.Score(pm, um))
				assert.Equal(t, 0, AgreementRefRule{}.Score(pm, um))
				assert.Equal(t, 0, ServiceActionRule{}.Score(pm, um))
			})
		}
	}
}

func TestPartyInfoRule(t *testing.T) {
	tests := []struct {
		name string
		info *PartyInfo
		from *ebms.Party
		to   *ebms.Party
		want int
	}{
		{
			name: "both parties match",
			info: &PartyInfo{FromParty: party("A", "Sender"), ToParty: party("B", "Receiver")},
			from: party("A", "Sender"), to: party("B", "Receiver"),
			want: 16,
		},
		{
			name: "ids match, role differs",
			info: &PartyInfo{FromParty: party("A", "Sender"), ToParty: party("B", "Receiver")},
			from: party("A", "Other"), to: party("B", "Receiver"),
			want: 15,
		},
		{
			name: "receiver only",
			info: &PartyInfo{ToParty: party("B", "Receiver")},
			from: party("A", "Sender"), to: party("B", "Receiver"),
			want: 8,
		},
		{
			name: "sender only",
			info: &PartyInfo{FromParty: party("A", "Sender")},
			from: party("A", "Sender"), to: party("B", "Receiver"),
			want: 7,
		},
		{
			name: "role only",
			info: &PartyInfo{FromParty: party("X", "Sender"), ToParty: party("Y", "Receiver")},
			from: party("A", "Sender"), to: party("B", "Other"),
			want: 1,
		},
		{
			name: "nothing matches",
			info: &PartyInfo{FromParty: party("X", "S"), ToParty: party("Y", "R")},
			from: party("A", "Sender"), to: party("B", "Receiver"),
			want: 0,
		},
		{
			name: "no constraints",
			info: nil,
			from: party("A", "Sender"), to: party("B", "Receiver"),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := &ReceivingProcessingMode{ID: "pm", MessagePackaging: ReceivePackaging{PartyInfo: tt.info}}
			um := message(ebms.WithSender(tt.from), ebms.WithReceiver(tt.to))
			assert.Equal(t, tt.want, PartyInfoRule{}.Score(pm, um))
		})
	}
}

func TestUndefinedPartyInfo_DefaultParties(t *testing.T) {
	pm := &ReceivingProcessingMode{ID: "pm"}
	um := message()
	s := NewSelector()

	assert.Equal(t, 7, UndefinedPartyInfoRule{}.Score(pm, um))
	assert.Equal(t, 0, PartyInfoRule{}.Score(pm, um))
	assert.Equal(t, 7, s.Score(pm, um))

	empty := &ReceivingProcessingMode{ID: "pm", MessagePackaging: ReceivePackaging{PartyInfo: &PartyInfo{FromParty: &ebms.Party{}}}}
	assert.Equal(t, 7, UndefinedPartyInfoRule{}.Score(empty, um))

	constrained := &ReceivingProcessingMode{ID: "pm", MessagePackaging: ReceivePackaging{PartyInfo: &PartyInfo{ToParty: party("B", "")}}}
	assert.Equal(t, 0, UndefinedPartyInfoRule{}.Score(constrained, um))
}

func TestServiceActionRule(t *testing.T) {
	pm := &ReceivingProcessingMode{ID: "pm", MessagePackaging: ReceivePackaging{
		CollaborationInfo: &CollaborationInfo{Service: &Service{Value: "svc", Type: "st"}, Action: "act"},
	}}

	assert.Equal(t, 3, ServiceActionRule{}.Score(pm, message(ebms.WithService("svc", "st"), ebms.WithAction("act"))))
	assert.Equal(t, 0, ServiceActionRule{}.Score(pm, message(ebms.WithService("svc", ""), ebms.WithAction("act"))))
	assert.Equal(t, 0, ServiceActionRule{}.Score(pm, message(ebms.WithService("svc", "st"), ebms.WithAction("other"))))
}

func selectionFixture() ([]*ReceivingProcessingMode, *ebms.UserMessage) {
	pms := []*ReceivingProcessingMode{
		{ID: "catch-all"},
		{ID: "by-service", MessagePackaging: ReceivePackaging{
			PartyInfo:         &PartyInfo{ToParty: party("B", "Receiver")},
			CollaborationInfo: &CollaborationInfo{Service: &Service{Value: "svc"}, Action: "act"},
		}},
		{ID: "by-parties", MessagePackaging: ReceivePackaging{
			PartyInfo: &PartyInfo{FromParty: party("A", "Sender"), ToParty: party("B", "Receiver")},
		}},
	}
	um := message(
		ebms.WithFrom("A", "Sender"),
		ebms.WithTo("B", "Receiver"),
		ebms.WithService("svc", ""),
		ebms.WithAction("act"),
	)
	return pms, um
}

func TestSelector_HighestScoreWins(t *testing.T) {
	pms, um := selectionFixture()

	pm, err := NewSelector().Select(pms, um)
	require.NoError(t, err)
	assert.Equal(t, "by-parties", pm.ID)
}

func TestSelector_PModeIDOverridesOtherCriteria(t *testing.T) {
	pms, um := selectionFixture()
	pms[0].MessagePackaging.CollaborationInfo = &CollaborationInfo{AgreementReference: &AgreementReference{Value: "agr"}}
	um.CollaborationInfo.AgreementRef = &ebms.AgreementRef{Value: "agr", Pmode: "catch-all"}

	pm, err := NewSelector().Select(pms, um)
	require.NoError(t, err)
	assert.Equal(t, "catch-all", pm.ID)
}

func TestSelector_RuleOrderDoesNotMatter(t *testing.T) {
	pms, um := selectionFixture()
	rules := DefaultRules()
	reversed := make([]Rule, len(rules))
	for i, r := range rules {
		reversed[len(rules)-1-i] = r
	}

	a, err := NewSelector(rules...).Select(pms, um)
	require.NoError(t, err)
	b, err := NewSelector(reversed...).Select(pms, um)
	require.NoError(t, err)
	assert.Same(t, a, b)
	for _, pm := range pms {
		assert.Equal(t, NewSelector(rules...).Score(pm, um), NewSelector(reversed...).Score(pm, um))
	}
}

func TestSelector_Tie(t *testing.T) {
	pms := []*ReceivingProcessingMode{{ID: "a"}, {ID: "b"}}

	_, err := NewSelector().Select(pms, message())
	assert.ErrorIs(t, err, ErrAmbiguousPMode)
	assert.ErrorIs(t, err, ErrPModeConfiguration)
}

func TestSelector_NoMatch(t *testing.T) {
	pms := []*ReceivingProcessingMode{{ID: "a", MessagePackaging: ReceivePackaging{
		PartyInfo: &PartyInfo{ToParty: party("Z", "Nobody")},
	}}}

	_, err := NewSelector().Select(pms, message())
	assert.ErrorIs(t, err, ErrNoMatchingPMode)
	assert.ErrorIs(t, err, ErrPModeConfiguration)

	_, err = NewSelector().Select(nil, message())
	assert.ErrorIs(t, err, ErrNoMatchingPMode)
}

func TestSelector_CustomRule(t *testing.T) {
	pms := []*ReceivingProcessingMode{{ID: "a"}, {ID: "b"}}
	prefer := RuleFunc{RuleName: "preferB", Fn: func(pm *ReceivingProcessingMode, _ *ebms.UserMessage) int {
		if pm.ID == "b" {
			return 1
		}
		return 0
	}}

	pm, err := NewSelector(append(DefaultRules(), prefer)...).Select(pms, message())
	require.NoError(t, err)
	assert.Equal(t, "b", pm.ID)
}
