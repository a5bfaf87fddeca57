package ebms

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMIMESerializer_SOAPOnly(t *testing.T) {
	s := MIMESerializer{}
	receipt := NewReceipt("ref-1")

	var buf bytes.Buffer
	contentType, err := s.Serialize(NewAS4Message(receipt), &buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(contentType, ContentTypeSOAPXML))

	msg, err := s.Deserialize(&buf, contentType)
	require.NoError(t, err)
	require.Len(t, msg.SignalMessages, 1)
	assert.True(t, msg.SignalMessages[0].IsReceipt())
	assert.Equal(t, "ref-1", msg.SignalMessages[0].RefToMessageID())
}

func TestMIMESerializer_Multipart(t *testing.T) {
	s := MIMESerializer{}
	um := NewUserMessage(
		WithFrom("A", "Sender"),
		WithTo("B", "Receiver"),
		WithService("svc", ""),
		WithAction("act"),
	)
	out := NewAS4Message(um)
	a := NewAttachment("payload@example", "application/xml", strings.NewReader("<order/>"))
	a.Properties[PartPropertyMimeType] = "application/xml"
	out.AddAttachment(a)

	var buf bytes.Buffer
	contentType, err := s.Serialize(out, &buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(contentType, ContentTypeMultipartRelated))

	in, err := s.Deserialize(&buf, contentType)
	require.NoError(t, err)
	defer in.Close()

	require.Len(t, in.UserMessages, 1)
	assert.Equal(t, um.MessageID(), in.PrimaryMessageID())
	assert.Equal(t, "A", in.FirstUserMessage().Sender().PartyId[0].Value)
	assert.Equal(t, "act", in.FirstUserMessage().CollaborationInfo.Action)

	require.Len(t, in.Attachments, 1)
	got := in.Attachments[0]
	assert.Equal(t, "payload@example", got.ID)
	assert.Equal(t, "application/xml", got.Properties[PartPropertyMimeType])
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "<order/>", string(data))
}

func TestMIMESerializer_Errors(t *testing.T) {
	s := MIMESerializer{}

	_, err := s.Serialize(NewAS4Message(), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = s.Deserialize(strings.NewReader("x"), "application/octet-stream")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)

	_, err = s.Deserialize(strings.NewReader("not xml"), ContentTypeSOAPXML)
	assert.Error(t, err)

	envelope := `<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"><Body/></Envelope>`
	_, err = s.Deserialize(strings.NewReader(envelope), ContentTypeSOAPXML)
	assert.ErrorIs(t, err, ErrMissingMessagingHeader)
}
