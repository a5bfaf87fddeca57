package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/pkg/ebms"
)

func TestParseOperation(t *testing.T) {
	assert.Equal(t, ToBeSent, ParseOperation("ToBeSent"))
	assert.Equal(t, Delivering, ParseOperation(" delivering "))
	assert.Equal(t, NotApplicable, ParseOperation(""))
	assert.Equal(t, NotApplicable, ParseOperation("Exploded"))
	assert.Equal(t, Undetermined, ParseOperation("Undetermined"))
}

func TestLock_SentinelsAreNoOps(t *testing.T) {
	for _, value := range []string{"NotApplicable", "Undetermined", "", "garbage"} {
		t.Run(value, func(t *testing.T) {
			m := &MessageEntity{Operation: Sending}
			m.Lock(value)
			m.Lock(value)
			assert.Equal(t, Sending, m.Operation)

			e := &ExceptionEntity{Operation: ToBeNotified}
			e.Lock(value)
			assert.Equal(t, ToBeNotified, e.Operation)
		})
	}
}

func TestLock_AppliesState(t *testing.T) {
	m := &InMessage{}
	m.Operation = ToBeDelivered
	m.Lock("Delivering")
	assert.Equal(t, Delivering, m.Operation)
}

func TestLock_DoesNotCheckTransition(t *testing.T) {
	m := &OutMessage{}
	m.Operation = DeadLettered
	m.Lock("ToBeSent")
	assert.Equal(t, ToBeSent, m.Operation, "moves back from a final state")

	e := &OutException{}
	e.Operation = Notified
	e.Lock("ToBeNotified")
	assert.Equal(t, ToBeNotified, e.Operation)
}

func TestCleanableOperations(t *testing.T) {
	ops := CleanableOperations()
	assert.ElementsMatch(t, []Operation{Delivered, Forwarded, Notified, Sent, NotApplicable, Undetermined}, ops)
	assert.NotContains(t, ops, Sending)
	assert.NotContains(t, ops, ToBeRetried)
	assert.NotContains(t, ops, DeadLettered)
}

func TestNew(t *testing.T) {
	for _, table := range Tables() {
		e, err := New(table)
		require.NoError(t, err)
		assert.Equal(t, string(table), e.TableName())
	}
	_, err := New("nope")
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	um := ebms.NewUserMessage(
		ebms.WithFrom("A", "Sender"),
		ebms.WithTo("B", "Receiver"),
		ebms.WithService("svc", ""),
		ebms.WithAction("act"),
	)
	var m MessageEntity
	m.Describe(um)
	assert.Equal(t, um.MessageID(), m.EbmsMessageID)
	assert.Equal(t, UserMessageType, m.EbmsMessageType)
	assert.Equal(t, "A", m.FromParty)
	assert.Equal(t, "act", m.Action)

	var s MessageEntity
	s.Describe(ebms.NewError("ref", ebms.ErrOther, ""))
	assert.Equal(t, ErrorType, s.EbmsMessageType)
	assert.Equal(t, "ref", s.EbmsRefToMessageID)
}

func TestReceptionAwareness_Due(t *testing.T) {
	now := time.Now()
	ra := &ReceptionAwareness{LastSendTime: now.Add(-time.Minute), RetryInterval: 30 * time.Second, TotalRetryCount: 2}
	assert.True(t, ra.Due(now))
	assert.False(t, ra.Exhausted())

	ra.RetryInterval = 2 * time.Minute
	assert.False(t, ra.Due(now))

	ra.CurrentRetryCount = 2
	assert.True(t, ra.Exhausted())
}

func TestRetryReliability_Target(t *testing.T) {
	table, id := (&RetryReliability{RefToOutExceptionID: 4}).Target()
	assert.Equal(t, TableOutExceptions, table)
	assert.Equal(t, int64(4), id)

	table, _ = (&RetryReliability{}).Target()
	assert.Empty(t, table)
}
