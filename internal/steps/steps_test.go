package steps

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/senders"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/internal/storage/gormstore"
	"github.com/sirosfoundation/go-msh/pkg/ebms"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// recorder is a deliver and notify method that records envelopes and
// answers with a preset result.
type recorder struct {
	mu     sync.Mutex
	result senders.Result
	envs   []msh.Envelope
}

func (r *recorder) Send(_ context.Context, env *msh.Envelope) senders.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, *env)
	return r.result
}

func (r *recorder) answer(res senders.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = res
}

func (r *recorder) sent() []msh.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]msh.Envelope(nil), r.envs...)
}

type fixture struct {
	deps *Deps
	repo *gormstore.Repository
	src  *pmode.MemorySource
	rec  *recorder
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := gormstore.Open(gormstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close(context.Background()) })

	f := &fixture{
		repo: repo,
		src:  pmode.NewMemorySource(),
		rec:  &recorder{},
		now:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	reg := senders.NewRegistry()
	reg.Register("RECORD", func(map[string]string) (senders.Sender, error) { return f.rec, nil })

	dir := t.TempDir()
	f.deps = &Deps{
		Repo:        repo,
		Bodies:      bodystore.NewFileStore(),
		PModes:      f.src,
		Senders:     reg,
		InLocation:  bodystore.FileScheme + filepath.Join(dir, "in"),
		OutLocation: bodystore.FileScheme + filepath.Join(dir, "out"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

var (
	partyA = &ebms.Party{PartyId: []ebms.PartyId{{Value: "org:a"}}, Role: "sender"}
	partyB = &ebms.Party{PartyId: []ebms.PartyId{{Value: "org:b"}}, Role: "receiver"}
)

func sendingPMode(url string) *pmode.SendingProcessingMode {
	return &pmode.SendingProcessingMode{
		ID:                "send-1",
		PushConfiguration: &pmode.PushConfiguration{URL: url, Timeout: 5 * time.Second},
		ReceiptHandling:   &pmode.Notification{Notify: true, Method: &pmode.Method{Type: "RECORD"}},
		ErrorHandling:     &pmode.Notification{Notify: true, Method: &pmode.Method{Type: "RECORD"}},
		MessagePackaging: pmode.SendPackaging{
			PartyInfo: &pmode.PartyInfo{FromParty: partyA, ToParty: partyB},
			CollaborationInfo: &pmode.CollaborationInfo{
				AgreementReference: &pmode.AgreementReference{Value: "agreement", PModeID: "recv-1"},
				Service:            &pmode.Service{Value: "invoice"},
				Action:             "Submit",
			},
		},
	}
}

func withReceptionAwareness(pm *pmode.SendingProcessingMode, count int) *pmode.SendingProcessingMode {
	pm.Reliability = &pmode.SendReliability{ReceptionAwareness: pmode.ReceptionAwareness{
		Enabled: true, RetryCount: count, RetryInterval: time.Minute,
	}}
	return pm
}

func receivingPMode() *pmode.ReceivingProcessingMode {
	return &pmode.ReceivingProcessingMode{
		ID:          "recv-1",
		Reliability: &pmode.ReceiveReliability{DuplicateElimination: true},
		MessagePackaging: pmode.ReceivePackaging{
			PartyInfo: &pmode.PartyInfo{FromParty: partyA, ToParty: partyB},
			CollaborationInfo: &pmode.CollaborationInfo{
				AgreementReference: &pmode.AgreementReference{Value: "agreement"},
			},
		},
		MessageHandling: pmode.MessageHandling{Deliver: &pmode.Deliver{
			Enabled:       true,
			DeliverMethod: pmode.Method{Type: "RECORD"},
			Reliability:   &pmode.RetryReliability{Enabled: true, RetryCount: 1, RetryInterval: time.Minute},
		}},
	}
}

func userMessage(id string) *ebms.AS4Message {
	um := ebms.NewUserMessage(
		ebms.WithMessageID(id),
		ebms.WithSender(partyA),
		ebms.WithReceiver(partyB),
		ebms.WithService("invoice", ""),
		ebms.WithAction("Submit"),
		ebms.WithAgreementRef("agreement", "", "recv-1"),
	)
	msg := ebms.NewAS4Message(um)
	a := ebms.NewAttachment("payload-1@example.org", "application/xml", strings.NewReader("<Invoice/>"))
	a.Properties[ebms.PartPropertyMimeType] = "application/xml"
	msg.AddAttachment(a)
	return msg
}

func received(t *testing.T, msg *ebms.AS4Message) *msh.MessagingContext {
	t.Helper()
	var buf bytes.Buffer
	contentType, err := ebms.MIMESerializer{}.Serialize(msg, &buf)
	require.NoError(t, err)
	rm := msh.NewReceivedMessage(io.NopCloser(&buf), contentType, "test")
	return msh.NewContext(msh.ModeReceive).WithReceivedMessage(rm)
}

// run executes steps like an agent's normal pipeline, stopping at the
// first failed result.
func run(t *testing.T, mc *msh.MessagingContext, steps ...msh.Step) msh.StepResult {
	t.Helper()
	res := msh.Success(mc)
	for _, s := range steps {
		var err error
		res, err = s.Execute(context.Background(), res.Context)
		require.NoError(t, err)
		if !res.Succeeded {
			return res
		}
	}
	return res
}

func (f *fixture) receivePipeline() []msh.Step {
	return []msh.Step{
		&DeserializeMessageStep{Deps: f.deps},
		&DeterminePModesStep{Deps: f.deps},
		&DecompressAttachmentsStep{Deps: f.deps},
		&StoreReceivedMessageStep{Deps: f.deps},
		&CreateReceiptStep{Deps: f.deps},
	}
}

func (f *fixture) submitPipeline() []msh.Step {
	return []msh.Step{
		&RetrieveSendingPModeStep{Deps: f.deps},
		&CreateAS4MessageStep{Deps: f.deps},
		&StoreAS4MessageStep{Deps: f.deps},
		&CompressAttachmentsStep{Deps: f.deps},
		&SetMessageToBeSentStep{Deps: f.deps},
	}
}

func (f *fixture) claim(t *testing.T, table entities.Table, op entities.Operation) []int64 {
	t.Helper()
	ids, err := f.repo.Claim(context.Background(), storage.ClaimQuery{
		Table:  table,
		Field:  storage.FieldOperation,
		Value:  string(op),
		LockTo: string(op),
		Limit:  100,
	})
	require.NoError(t, err)
	return ids
}

func (f *fixture) outMessage(t *testing.T, id int64) *entities.OutMessage {
	t.Helper()
	var out entities.OutMessage
	require.NoError(t, f.repo.Get(context.Background(), id, &out))
	return &out
}

func (f *fixture) inMessage(t *testing.T, id int64) *entities.InMessage {
	t.Helper()
	var in entities.InMessage
	require.NoError(t, f.repo.Get(context.Background(), id, &in))
	return &in
}

func nopBody(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }
