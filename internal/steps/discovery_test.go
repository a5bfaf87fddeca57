package steps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/pkg/discovery"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

const serviceMetadata = `<ServiceMetadata xmlns="http://docs.oasis-open.org/bdxr/ns/SMP/2/ServiceMetadata"
    xmlns:cac="http://docs.oasis-open.org/bdxr/ns/SMP/2/AggregateComponents"
    xmlns:cbc="http://docs.oasis-open.org/bdxr/ns/SMP/2/BasicComponents">
  <cac:ProcessMetadata>
    <cac:Process><cbc:ID>invoice</cbc:ID></cac:Process>
    <cac:Endpoint>
      <cbc:TransportProfileID>bdxr-transport-ebms3-as4-v2p0</cbc:TransportProfileID>
      <cbc:AddressURI>https://discovered.example.org/as4</cbc:AddressURI>
    </cac:Endpoint>
  </cac:ProcessMetadata>
</ServiceMetadata>`

type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func smpServer(t *testing.T) (*httptest.Server, *requestLog) {
	t.Helper()
	paths := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths.add(r.URL.Path)
		if !strings.HasPrefix(r.URL.Path, "/urn:example:participant::org:b/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(serviceMetadata))
	}))
	t.Cleanup(srv.Close)
	return srv, paths
}

func discoveringPMode(smp string) *pmode.SendingProcessingMode {
	pm := sendingPMode("")
	pm.PushConfiguration.URL = ""
	pm.DynamicDiscovery = &pmode.DynamicDiscovery{SMPURL: smp, ParticipantScheme: "urn:example:participant"}
	return pm
}

func TestDynamicDiscovery_ResolvesEndpoint(t *testing.T) {
	srv, paths := smpServer(t)
	f := newFixture(t)
	f.deps.Discovery = discovery.NewClient(srv.Client())
	require.NoError(t, f.src.AddSending(discoveringPMode(srv.URL)))

	sm := &msh.SubmitMessage{
		MessageID: "m-1@example.org",
		PModeID:   "send-1",
		Payloads:  []msh.Payload{{ID: "invoice@example.org", Location: payloadFile(t, "<Invoice/>"), ContentType: "application/xml"}},
	}
	pipeline := []msh.Step{
		&RetrieveSendingPModeStep{Deps: f.deps},
		&CreateAS4MessageStep{Deps: f.deps},
		&DynamicDiscoveryStep{Deps: f.deps},
		&StoreAS4MessageStep{Deps: f.deps},
	}
	res := run(t, msh.NewContext(msh.ModeSubmit).WithSubmitMessage(sm), pipeline...)
	require.True(t, res.Succeeded)
	assert.Equal(t, []string{"/urn:example:participant::org:b/services/Submit"}, paths.all())

	_, id := res.Context.Entity()
	out := f.outMessage(t, id)
	assert.Equal(t, "https://discovered.example.org/as4", out.URL)
	snapshot, err := pmode.UnmarshalSending(out.PMode)
	require.NoError(t, err)
	assert.Equal(t, "https://discovered.example.org/as4", snapshot.URL())

	configured, err := f.src.SendingPMode("send-1")
	require.NoError(t, err)
	assert.Empty(t, configured.URL(), "the configured pmode is left untouched")
}

func TestDynamicDiscovery_Failures(t *testing.T) {
	srv, _ := smpServer(t)
	f := newFixture(t)
	f.deps.Discovery = discovery.NewClient(srv.Client())
	step := &DynamicDiscoveryStep{Deps: f.deps}

	// without discovery the step passes the context on
	mc := msh.NewContext(msh.ModeSubmit).WithSendingPMode(sendingPMode("https://msh.example.org/as4")).WithAS4Message(userMessage("m-1@example.org"))
	res := run(t, mc, step)
	assert.Equal(t, "https://msh.example.org/as4", res.Context.SendingPMode().URL())

	pm := discoveringPMode(srv.URL)
	pm.DynamicDiscovery.ParticipantScheme = "urn:example:unknown"
	mc = msh.NewContext(msh.ModeSubmit).WithSendingPMode(pm).WithAS4Message(userMessage("m-1@example.org"))
	_, err := step.Execute(context.Background(), mc)
	assert.ErrorIs(t, err, discovery.ErrNotRegistered)

	_, err = step.Execute(context.Background(), msh.NewContext(msh.ModeSubmit).WithSendingPMode(discoveringPMode(srv.URL)))
	assert.Error(t, err)
}
