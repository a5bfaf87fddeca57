package pmode

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sendingYAML = `
id: send-1
pushConfiguration:
  url: ${MSH_TEST_URL}
reliability:
  receptionAwareness:
    enabled: true
    retryCount: 3
    retryInterval: 30s
receiptHandling:
  notify: true
  notifyMethod:
    type: FILE
    parameters:
      location: /tmp/receipts
messagePackaging:
  useAS4Compression: true
  partyInfo:
    fromParty:
      role: Sender
      partyIds:
        - id: org:a
`

const receivingYAML = `
id: recv-1
reliability:
  duplicateElimination: true
messagePackaging:
  collaborationInfo:
    service:
      value: svc
    action: act
messageHandling:
  deliver:
    enabled: true
    deliverMethod:
      type: FILE
      parameters:
        location: /tmp/in
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirectories(t *testing.T) {
	t.Setenv("MSH_TEST_URL", "https://peer.example.com/as4")
	sendDir, recvDir := t.TempDir(), t.TempDir()
	writeFile(t, sendDir, "send.yaml", sendingYAML)
	writeFile(t, sendDir, "README.txt", "ignored")
	writeFile(t, recvDir, "recv.yml", receivingYAML)

	src, err := LoadDirectories(sendDir, recvDir)
	require.NoError(t, err)

	send, err := src.SendingPMode("send-1")
	require.NoError(t, err)
	assert.Equal(t, "https://peer.example.com/as4", send.URL())
	assert.Equal(t, MEPBindingPush, send.Binding())
	assert.True(t, send.ReceptionAwarenessEnabled())
	assert.Equal(t, 30*time.Second, send.Reliability.ReceptionAwareness.RetryInterval)
	assert.True(t, send.NotifiesReceipts())
	assert.Equal(t, "/tmp/receipts", send.ReceiptHandling.Method.Parameter("location", ""))
	assert.Equal(t, "org:a", send.MessagePackaging.PartyInfo.FromParty.PartyId[0].Value)

	recv := src.ReceivingPModes()
	require.Len(t, recv, 1)
	assert.True(t, recv[0].Delivers())
	assert.True(t, recv[0].EliminatesDuplicates())
	assert.Equal(t, ReplyResponse, recv[0].Replies())

	_, err = src.SendingPMode("missing")
	assert.ErrorIs(t, err, ErrPModeNotFound)
}

func TestLoadDirectories_Duplicate(t *testing.T) {
	recvDir := t.TempDir()
	writeFile(t, recvDir, "a.yaml", receivingYAML)
	writeFile(t, recvDir, "b.yaml", receivingYAML)

	_, err := LoadDirectories("", recvDir)
	assert.ErrorIs(t, err, ErrInvalidPMode)
}

func TestSendingValidate(t *testing.T) {
	assert.ErrorIs(t, (&SendingProcessingMode{}).Validate(), ErrInvalidPMode)
	assert.ErrorIs(t, (&SendingProcessingMode{ID: "x"}).Validate(), ErrInvalidPMode)
	assert.NoError(t, (&SendingProcessingMode{ID: "x", MEPBinding: MEPBindingPull}).Validate())

	pm := &SendingProcessingMode{
		ID:                "x",
		PushConfiguration: &PushConfiguration{URL: "http://localhost"},
		ErrorHandling:     &Notification{Notify: true},
	}
	assert.ErrorIs(t, pm.Validate(), ErrInvalidPMode)

	pm.ErrorHandling.Method = &Method{Type: "FILE"}
	assert.NoError(t, pm.Validate())
}

func TestSendingValidate_DynamicDiscovery(t *testing.T) {
	pm := &SendingProcessingMode{ID: "x", DynamicDiscovery: &DynamicDiscovery{TransportProfiles: []string{"peppol-transport-as4-v2_0"}}}
	assert.False(t, pm.Discovers())
	assert.ErrorIs(t, pm.Validate(), ErrInvalidPMode, "discovery needs an SML domain or SMP")

	pm.DynamicDiscovery.SMLDomain = "edelivery.tech.ec.europa.eu"
	assert.True(t, pm.Discovers())
	assert.NoError(t, pm.Validate())

	data, err := Marshal(pm)
	require.NoError(t, err)
	assert.Contains(t, data, "smlDomain: edelivery.tech.ec.europa.eu")
	got, err := UnmarshalSending(data)
	require.NoError(t, err)
	assert.Equal(t, pm.DynamicDiscovery, got.DynamicDiscovery)
}

func TestReceivingValidate(t *testing.T) {
	pm := &ReceivingProcessingMode{
		ID: "x",
		MessageHandling: MessageHandling{
			Deliver: &Deliver{Enabled: true, DeliverMethod: Method{Type: "FILE"}},
			Forward: &Forward{SendingPMode: "fwd"},
		},
	}
	assert.ErrorIs(t, pm.Validate(), ErrInvalidPMode)

	pm.MessageHandling.Forward = nil
	assert.NoError(t, pm.Validate())

	pm.ReplyHandling.ReplyPattern = ReplyCallback
	assert.ErrorIs(t, pm.Validate(), ErrInvalidPMode)
	pm.ReplyHandling.SendingPMode = "callback"
	assert.NoError(t, pm.Validate())

	pm.ReplyHandling.ReplyPattern = "Carrier pigeon"
	assert.ErrorIs(t, pm.Validate(), ErrInvalidPMode)
}

func TestMarshalSnapshot(t *testing.T) {
	pm := &ReceivingProcessingMode{ID: "recv", MessageHandling: MessageHandling{
		Deliver: &Deliver{Enabled: true, DeliverMethod: Method{Type: "HTTP", Parameters: map[string]string{"url": "http://x"}}},
	}}

	snapshot, err := Marshal(pm)
	require.NoError(t, err)

	back, err := UnmarshalReceiving(snapshot)
	require.NoError(t, err)
	assert.Equal(t, pm.ID, back.ID)
	assert.Equal(t, "http://x", back.MessageHandling.Deliver.DeliverMethod.Parameter("url", ""))
}
