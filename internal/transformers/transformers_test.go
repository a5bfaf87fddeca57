package transformers

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

const submitXML = `<?xml version="1.0"?>
<SubmitMessage xmlns="urn:sirosfoundation:go-msh:1.0" mpc="urn:mpc:a">
  <MessageInfo><MessageId>m-1@example.org</MessageId></MessageInfo>
  <PartyInfo>
    <From><PartyId type="urn:oasis:names:tc:ebcore:partyid-type:unregistered">sender</PartyId><Role>Seller</Role></From>
    <To><PartyId>receiver</PartyId><Role>Buyer</Role></To>
  </PartyInfo>
  <CollaborationInfo>
    <AgreementRef pmode="pm-send">agreement-1</AgreementRef>
    <Service type="svc-type">invoice</Service>
    <Action>submit</Action>
    <ConversationId>conv-1</ConversationId>
  </CollaborationInfo>
  <MessageProperties><Property name="originalSender">sender</Property></MessageProperties>
  <Payloads>
    <Payload id="doc" mimeType="application/xml" location="file:///tmp/doc.xml">
      <Property name="Language">en</Property>
    </Payload>
  </Payloads>
</SubmitMessage>`

func TestParseSubmitMessage(t *testing.T) {
	sm, err := ParseSubmitMessage(strings.NewReader(submitXML))
	require.NoError(t, err)

	assert.Equal(t, "m-1@example.org", sm.MessageID)
	assert.Equal(t, "urn:mpc:a", sm.MPC)
	assert.Equal(t, "pm-send", sm.PModeID)
	assert.Equal(t, "agreement-1", sm.AgreementRef)
	assert.Equal(t, "invoice", sm.Service)
	assert.Equal(t, "svc-type", sm.ServiceType)
	assert.Equal(t, "submit", sm.Action)
	assert.Equal(t, "conv-1", sm.ConversationID)
	require.NotNil(t, sm.From)
	assert.Equal(t, "Seller", sm.From.Role)
	assert.Equal(t, "sender", sm.From.PartyId[0].Value)
	assert.Equal(t, "receiver", sm.To.PartyId[0].Value)
	require.Len(t, sm.MessageProperties, 1)
	require.Len(t, sm.Payloads, 1)
	assert.Equal(t, "file:///tmp/doc.xml", sm.Payloads[0].Location)
	assert.Equal(t, "en", sm.Payloads[0].Properties["Language"])
}

func TestParseSubmitMessage_Invalid(t *testing.T) {
	tests := map[string]string{
		"not xml":          "garbage<",
		"wrong root":       `<DeliverMessage/>`,
		"missing pmode":    `<SubmitMessage><CollaborationInfo><Action>a</Action></CollaborationInfo></SubmitMessage>`,
		"payload location": `<SubmitMessage><CollaborationInfo><AgreementRef pmode="p"/></CollaborationInfo><Payloads><Payload id="x"/></Payloads></SubmitMessage>`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSubmitMessage(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidSubmission)
		})
	}
}

func TestSubmitMessageTransformer(t *testing.T) {
	rm := msh.NewReceivedMessage(io.NopCloser(strings.NewReader(submitXML)), "application/xml", "test")
	mc, err := SubmitMessageTransformer{}.Transform(context.Background(), rm)
	require.NoError(t, err)
	assert.Equal(t, msh.ModeSubmit, mc.Mode())
	assert.Equal(t, "m-1@example.org", mc.SubmitMessage().MessageID)

	_, err = SubmitMessageTransformer{}.Transform(context.Background(), "not a message")
	assert.ErrorIs(t, err, ErrUnexpectedItem)
}

func TestReceiveMessageTransformer(t *testing.T) {
	rm := msh.NewReceivedMessage(io.NopCloser(strings.NewReader("x")), "text/xml", "test")
	mc, err := ReceiveMessageTransformer{}.Transform(context.Background(), rm)
	require.NoError(t, err)
	assert.Same(t, rm, mc.ReceivedMessage())
	assert.Equal(t, msh.ModeReceive, mc.Mode())
}

func userMessage() *ebms.AS4Message {
	um := ebms.NewUserMessage(
		ebms.WithMessageID("m-1@example.org"),
		ebms.WithFrom("sender", "Seller"),
		ebms.WithTo("receiver", "Buyer"),
		ebms.WithService("invoice", ""),
		ebms.WithAction("submit"),
		ebms.WithMessageProperty("originalSender", "sender"),
	)
	msg := ebms.NewAS4Message(um)
	a := ebms.NewAttachment("doc@example.org", "application/xml", strings.NewReader("<invoice/>"))
	a.Properties[ebms.PartPropertyMimeType] = "application/xml"
	msg.AddAttachment(a)
	return msg
}

func TestBuildDeliverMessage(t *testing.T) {
	data, err := BuildDeliverMessage(userMessage())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	root := doc.Root()
	assert.Equal(t, "DeliverMessage", root.Tag)
	assert.Equal(t, Namespace, root.SelectAttrValue("xmlns", ""))
	assert.Equal(t, "m-1@example.org", root.FindElement("MessageInfo/MessageId").Text())
	assert.Equal(t, "Seller", root.FindElement("PartyInfo/From/Role").Text())
	assert.Equal(t, "submit", root.FindElement("CollaborationInfo/Action").Text())

	content := root.FindElement("Payloads/Payload/Content").Text()
	decoded, err := base64.StdEncoding.DecodeString(content)
	require.NoError(t, err)
	assert.Equal(t, "<invoice/>", string(decoded))

	_, err = BuildDeliverMessage(ebms.NewAS4Message(ebms.NewReceipt("x")))
	assert.Error(t, err)
}

func TestBuildNotifyMessage(t *testing.T) {
	data, err := BuildNotifyMessage("sig-1", "m-1", StatusError, userMessage().FirstUserMessage().Timestamp(),
		[]NotifyDetail{{Code: "EBMS:0301", Severity: "failure", Description: "no receipt"}})
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	si := doc.Root().FindElement("StatusInfo")
	require.NotNil(t, si)
	assert.Equal(t, StatusError, si.SelectAttrValue("status", ""))
	assert.Equal(t, "EBMS:0301", si.FindElement("Detail").SelectAttrValue("code", ""))
	assert.Equal(t, "m-1", doc.Root().FindElement("MessageInfo/RefToMessageId").Text())
}

func testDeps(t *testing.T) (*Dependencies, string) {
	t.Helper()
	return &Dependencies{Bodies: bodystore.NewFileStore(), PModes: pmode.NewMemorySource()}, bodystore.FileScheme + t.TempDir()
}

func storedInMessage(t *testing.T, deps *Dependencies, base string, msg *ebms.AS4Message) *entities.InMessage {
	t.Helper()
	location, contentType, err := bodystore.SaveMessage(context.Background(), deps.Bodies, deps.serializer(), base, msg)
	require.NoError(t, err)

	m := &entities.InMessage{Status: entities.InReceived}
	m.ID = 5
	m.Describe(msg.PrimaryMessageUnit())
	m.MessageLocation = location
	m.ContentType = contentType
	return m
}

func TestDeliverMessageTransformer(t *testing.T) {
	deps, base := testDeps(t)
	m := storedInMessage(t, deps, base, userMessage())
	snapshot, err := pmode.Marshal(&pmode.ReceivingProcessingMode{ID: "pm-recv"})
	require.NoError(t, err)
	m.PMode = snapshot

	mc, err := (&DeliverMessageTransformer{Deps: deps}).Transform(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, msh.ModeDeliver, mc.Mode())
	assert.Equal(t, "pm-recv", mc.ReceivingPMode().ID)

	env := mc.DeliverEnvelope()
	require.NotNil(t, env)
	assert.Equal(t, "m-1@example.org", env.MessageID)
	assert.Equal(t, int64(5), env.EntityID)
	assert.Contains(t, string(env.Body), "DeliverMessage")

	table, id := mc.Entity()
	assert.Equal(t, entities.TableInMessages, table)
	assert.Equal(t, int64(5), id)
}

func TestDeliverMessageTransformer_UnknownPMode(t *testing.T) {
	deps, base := testDeps(t)
	m := storedInMessage(t, deps, base, userMessage())
	m.PModeID = "missing"

	_, err := (&DeliverMessageTransformer{Deps: deps}).Transform(context.Background(), m)
	assert.ErrorIs(t, err, pmode.ErrPModeNotFound)
}

func TestNotifyMessageTransformer_ErrorSignal(t *testing.T) {
	deps, base := testDeps(t)
	sig := ebms.NewError("m-1", ebms.ErrMissingReceipt, "no receipt received")
	m := storedInMessage(t, deps, base, ebms.NewAS4Message(sig))
	snapshot, err := pmode.Marshal(&pmode.SendingProcessingMode{ID: "pm-send"})
	require.NoError(t, err)
	m.PMode = snapshot

	mc, err := (&NotifyMessageTransformer{Deps: deps}).Transform(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, msh.ModeNotify, mc.Mode())
	assert.Equal(t, "pm-send", mc.SendingPMode().ID)

	env := mc.NotifyEnvelope()
	require.NotNil(t, env)
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, "m-1", env.MessageID)
	assert.Contains(t, string(env.Body), "EBMS:0301")
}

func TestNotifyMessageTransformer_Exception(t *testing.T) {
	deps, _ := testDeps(t)
	require.NoError(t, deps.PModes.(*pmode.MemorySource).AddReceiving(&pmode.ReceivingProcessingMode{ID: "pm-recv"}))

	e := &entities.InException{}
	e.ID = 9
	e.EbmsRefToMessageID = "m-9"
	e.Exception = "payload could not be decompressed"
	e.PModeID = "pm-recv"

	mc, err := (&NotifyMessageTransformer{Deps: deps}).Transform(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "pm-recv", mc.ReceivingPMode().ID)

	env := mc.NotifyEnvelope()
	assert.Equal(t, StatusException, env.Status)
	assert.Equal(t, entities.TableInExceptions, env.Table)
	assert.Contains(t, string(env.Body), "decompressed")
}

func TestRetryReliabilityTransformer_Mode(t *testing.T) {
	mc, err := RetryReliabilityTransformer{}.Transform(context.Background(), &entities.RetryReliability{ID: 1, RetryType: entities.RetryNotification})
	require.NoError(t, err)
	assert.Equal(t, msh.ModeNotify, mc.Mode())
	assert.NotNil(t, mc.RetryReliability())

	mc, err = RetryReliabilityTransformer{}.Transform(context.Background(), &entities.RetryReliability{ID: 2, RetryType: entities.RetryDelivery})
	require.NoError(t, err)
	assert.Equal(t, msh.ModeDeliver, mc.Mode())
}
