package msh

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

type countingCloser struct {
	io.Reader
	closed int
}

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestContext_SettingPayloadClearsOthers(t *testing.T) {
	mc := NewContext(ModeReceive).
		WithReceivedMessage(NewReceivedMessage(io.NopCloser(strings.NewReader("x")), "text/xml", "test"))
	require.NotNil(t, mc.ReceivedMessage())

	msg := ebms.NewAS4Message(ebms.NewUserMessage())
	next := mc.WithAS4Message(msg)
	assert.Nil(t, next.ReceivedMessage())
	assert.Same(t, msg, next.AS4Message())

	ra := next.WithReceptionAwareness(&entities.ReceptionAwareness{RefToEbmsMessageID: "m-1"})
	assert.Nil(t, ra.AS4Message())
	assert.Equal(t, "m-1", ra.MessageID())
}

func TestContext_CopyOnWrite(t *testing.T) {
	orig := NewContext(ModeSubmit).WithSubmitMessage(&SubmitMessage{MessageID: "m-1"})
	changed := orig.WithMode(ModeSend).WithErrorResult(&ErrorResult{Code: ebms.ErrOther}).WithEntity(entities.TableOutMessages, 7)

	assert.Equal(t, ModeSubmit, orig.Mode())
	assert.Nil(t, orig.ErrorResult())
	table, id := orig.Entity()
	assert.Empty(t, table)
	assert.Zero(t, id)

	assert.Equal(t, ModeSend, changed.Mode())
	assert.Equal(t, "Other", changed.ErrorResult().Alias())
	table, id = changed.Entity()
	assert.Equal(t, entities.TableOutMessages, table)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "m-1", changed.MessageID())
}

func TestContext_ReceivingPModeStringFollowsPMode(t *testing.T) {
	mc := NewContext(ModeReceive)
	s, err := mc.ReceivingPModeString()
	require.NoError(t, err)
	assert.Empty(t, s)

	first := mc.WithReceivingPMode(&pmode.ReceivingProcessingMode{ID: "pm-1"})
	s, err = first.ReceivingPModeString()
	require.NoError(t, err)
	assert.Contains(t, s, "pm-1")

	second := first.WithReceivingPMode(&pmode.ReceivingProcessingMode{ID: "pm-2"})
	s, err = second.ReceivingPModeString()
	require.NoError(t, err)
	assert.Contains(t, s, "pm-2")
	assert.NotContains(t, s, "pm-1")

	s, err = first.ReceivingPModeString()
	require.NoError(t, err)
	assert.Contains(t, s, "pm-1")
}

func TestContext_CloseIsIdempotent(t *testing.T) {
	body := &countingCloser{Reader: strings.NewReader("x")}
	mc := NewContext(ModeReceive).WithReceivedMessage(NewReceivedMessage(body, "text/xml", "test"))

	require.NoError(t, mc.Close())
	require.NoError(t, mc.Close())
	assert.Equal(t, 1, body.closed)

	var nilCtx *MessagingContext
	assert.NoError(t, nilCtx.Close())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "Deliver", ModeDeliver.String())
	assert.Equal(t, "Unknown", Mode(99).String())
}

func TestReceivedMessage_BytesSurvivesClose(t *testing.T) {
	body := &countingCloser{Reader: strings.NewReader("<raw/>")}
	rm := NewReceivedMessage(body, "text/xml", "test")

	data, err := rm.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "<raw/>", string(data))

	require.NoError(t, rm.Close())
	again, err := rm.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}
