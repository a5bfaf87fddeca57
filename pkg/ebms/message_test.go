package ebms

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserMessage_Options(t *testing.T) {
	um := NewUserMessage(
		WithFrom("sender-123", "Sender"),
		WithTo("receiver-456", "Receiver"),
		WithService("http://example.com/service", "svc-type"),
		WithAction("processOrder"),
		WithAgreementRef("agreement", "agr-type", "pm-1"),
		WithMessageProperty("priority", "high"),
	)

	assert.NotEmpty(t, um.MessageID())
	assert.True(t, strings.HasSuffix(um.MessageID(), "@go-msh"))
	require.Len(t, um.Sender().PartyId, 1)
	assert.Equal(t, "sender-123", um.Sender().PartyId[0].Value)
	assert.Equal(t, "Receiver", um.Receiver().Role)
	assert.Equal(t, "svc-type", um.CollaborationInfo.Service.Type)
	assert.Equal(t, "processOrder", um.CollaborationInfo.Action)
	assert.Equal(t, "pm-1", um.CollaborationInfo.AgreementRef.Pmode)
	require.Len(t, um.MessageProperties.Property, 1)
}

func TestNewUserMessage_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, NewUserMessage().MessageID(), NewUserMessage().MessageID())
}

func TestSenderReceiver_NeverNil(t *testing.T) {
	um := &UserMessage{}
	assert.NotNil(t, um.Sender())
	assert.NotNil(t, um.Receiver())
	assert.True(t, um.Sender().IsEmpty())
}

func TestParty_SameIDs(t *testing.T) {
	a := &Party{PartyId: []PartyId{{Value: "a"}, {Type: "t", Value: "b"}}, Role: "r"}
	b := &Party{PartyId: []PartyId{{Type: "t", Value: "b"}, {Value: "a"}}, Role: "r"}
	c := &Party{PartyId: []PartyId{{Value: "a"}}, Role: "r"}

	assert.True(t, a.SameIDs(b))
	assert.True(t, a.Equal(b))
	assert.False(t, a.SameIDs(c))
	assert.False(t, (*Party)(nil).SameIDs(a))
	assert.False(t, (&Party{}).SameRole(&Party{}))
}

func TestSignals(t *testing.T) {
	receipt := NewReceipt("ref-1")
	assert.True(t, receipt.IsReceipt())
	assert.False(t, receipt.IsError())
	assert.Equal(t, "ref-1", receipt.RefToMessageID())

	failure := NewError("ref-2", ErrProcessingModeMismatch, "no pmode")
	assert.True(t, failure.IsError())
	require.Len(t, failure.Errors, 1)
	assert.Equal(t, "EBMS:0010", failure.Errors[0].ErrorCode)
	assert.Equal(t, "no pmode", failure.Errors[0].Description)

	failure.MessageInfo.RefToMessageId = ""
	assert.Equal(t, "ref-2", failure.RefToMessageID())
}

func TestAS4Message_PrimaryUnit(t *testing.T) {
	um := NewUserMessage()
	receipt := NewReceipt("x")

	msg := NewAS4Message(receipt, um)
	assert.Equal(t, um.MessageID(), msg.PrimaryMessageID())
	assert.Len(t, msg.MessageUnits(), 2)
	assert.True(t, msg.IsUserMessage())

	signalOnly := NewAS4Message(receipt)
	assert.True(t, signalOnly.IsSignalMessage())
	assert.Equal(t, receipt.MessageID(), signalOnly.PrimaryMessageID())

	assert.True(t, NewAS4Message().IsEmpty())
	assert.Nil(t, NewAS4Message().PrimaryMessageUnit())
}

func TestAS4Message_AddAttachmentReferencesPart(t *testing.T) {
	msg := NewAS4Message(NewUserMessage())
	a := NewAttachment("<payload-1>", "application/xml", strings.NewReader("<a/>"))
	a.Properties[PartPropertyMimeType] = "application/xml"
	msg.AddAttachment(a)
	msg.AddAttachment(a)

	pi := msg.FirstUserMessage().PayloadInfo.PartInfo
	require.Len(t, pi, 1)
	assert.Equal(t, "cid:payload-1", pi[0].Href)
	assert.Same(t, a, msg.AttachmentByID("cid:payload-1"))
}

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestAttachment_CloseReleasesStream(t *testing.T) {
	rc := &closeRecorder{Reader: strings.NewReader("data")}
	msg := NewAS4Message(NewUserMessage())
	msg.AddAttachment(NewAttachment("p", "text/plain", rc))

	require.NoError(t, msg.Close())
	require.NoError(t, msg.Close())
	assert.Equal(t, 1, rc.closed)
}

func TestAttachment_BytesBuffersOnce(t *testing.T) {
	rc := &closeRecorder{Reader: strings.NewReader("data")}
	a := NewAttachment("p", "text/plain", rc)

	first, err := a.Bytes()
	require.NoError(t, err)
	second, err := a.Bytes()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, rc.closed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestAttachment_BytesError(t *testing.T) {
	_, err := NewAttachment("p", "text/plain", failingReader{}).Bytes()
	assert.Error(t, err)
}

func TestAS4Message_RefreshPartInfo(t *testing.T) {
	msg := NewAS4Message(NewUserMessage())
	a := NewAttachment("p1", "application/xml", strings.NewReader("<a/>"))
	msg.AddAttachment(a)
	assert.Nil(t, msg.UserMessages[0].PayloadInfo.PartInfo[0].PartProperties)

	a.Properties[PartPropertyCompressionType] = "application/gzip"
	msg.RefreshPartInfo()

	pi := msg.UserMessages[0].PayloadInfo.PartInfo
	require.Len(t, pi, 1)
	require.NotNil(t, pi[0].PartProperties)
	assert.Equal(t, []Property{{Name: PartPropertyCompressionType, Value: "application/gzip"}}, pi[0].PartProperties.Property)
}
