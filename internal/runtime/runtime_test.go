package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/storage"
)

func parse(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestResolve_Defaults(t *testing.T) {
	def, err := Resolve(config.AgentConfig{Type: TypeDeliver})
	require.NoError(t, err)
	assert.Equal(t, "Deliver", def.Name)
	assert.Equal(t, ReceiverDatastore, def.Receiver)
	assert.Equal(t, "in_messages", def.ReceiverSettings["table"])
	assert.Equal(t, "ToBeDelivered", def.ReceiverSettings["value"])
	assert.Equal(t, "Delivering", def.ReceiverSettings["lockTo"])
	assert.Equal(t, []string{"SendDeliverMessage"}, def.Steps)
	assert.Equal(t, HandlerInbound, def.ExceptionHandler)

	def, err = Resolve(config.AgentConfig{Type: TypeRetry})
	require.NoError(t, err)
	assert.Equal(t, storage.FieldStatus, def.ReceiverSettings["field"])
	assert.Equal(t, string(entities.ReceptionPending), def.ReceiverSettings["value"])
}

func TestResolve_Overrides(t *testing.T) {
	def, err := Resolve(config.AgentConfig{
		Name:     "FastDeliver",
		Type:     TypeDeliver,
		Receiver: &config.ComponentConfig{Settings: map[string]string{"pollInterval": "1s"}},
		Steps:    &config.StepsConfig{Normal: []string{"SendDeliverMessage"}, Error: []string{"CreateError"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "FastDeliver", def.Name)
	assert.Equal(t, "1s", def.ReceiverSettings["pollInterval"])
	assert.Equal(t, "in_messages", def.ReceiverSettings["table"], "settings merge over the defaults")
	assert.Equal(t, []string{"CreateError"}, def.ErrorSteps)

	// a different receiver type drops the default settings
	def, err = Resolve(config.AgentConfig{
		Type:     TypeSubmit,
		Receiver: &config.ComponentConfig{Type: "http", Settings: map[string]string{"path": "/submit"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "http", def.Receiver)
	assert.Equal(t, Settings{"path": "/submit"}, def.ReceiverSettings)
}

func TestResolve_CustomTypeNeedsComponents(t *testing.T) {
	_, err := Resolve(config.AgentConfig{Type: "Audit"})
	assert.Error(t, err)

	def, err := Resolve(config.AgentConfig{
		Type:             "Audit",
		Receiver:         &config.ComponentConfig{Type: "directory", Settings: map[string]string{"path": "/tmp"}},
		Transformer:      "ReceiveMessage",
		ExceptionHandler: "Inbound",
	})
	require.NoError(t, err)
	assert.Equal(t, "Audit", def.Name)
	assert.Empty(t, def.Steps)
}

func TestDefinitions(t *testing.T) {
	defs, err := Definitions(parse(t, "{}"))
	require.NoError(t, err)
	assert.Len(t, defs, len(DefaultTypes()))

	defs, err = Definitions(parse(t, `
agents:
  - type: Receive
    enabled: false
  - name: Deliver2
    type: Deliver
`))
	require.NoError(t, err)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "Deliver2")
	assert.NotContains(t, names, "Deliver", "a configured type replaces its default agent")
	assert.NotContains(t, names, "Receive")
	assert.Contains(t, names, "Send")

	defs, err = Definitions(parse(t, "useDefaultAgents: false\nagents: [{type: Send}]"))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Send", defs[0].Name)
}

func TestRegistry_UnknownKeys(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Step("DoesNotExist")
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, err = reg.Receiver("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = reg.Step("senddelivermessage")
	assert.NoError(t, err, "keys are case-insensitive")
	assert.Contains(t, reg.Steps(), "retry")
}

func TestRegistry_EveryDefaultResolves(t *testing.T) {
	reg := NewRegistry()
	for _, typ := range DefaultTypes() {
		def, err := Resolve(config.AgentConfig{Type: typ})
		require.NoError(t, err)
		_, err = reg.Receiver(def.Receiver)
		assert.NoError(t, err, typ)
		_, err = reg.Transformer(def.Transformer)
		assert.NoError(t, err, typ)
		_, err = reg.ExceptionHandler(def.ExceptionHandler)
		assert.NoError(t, err, typ)
		for _, key := range append(def.Steps, def.ErrorSteps...) {
			_, err = reg.Step(key)
			assert.NoError(t, err, "%s: %s", typ, key)
		}
	}
}

// writeConfig lays out pmode directories and a sqlite database in a
// temporary directory
func writeConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	for _, d := range []string{"sending", "receiving"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o750))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sending", "send-1.yaml"), []byte(`
id: send-1
pushConfiguration:
  url: https://msh.example.org/as4
`), 0o600))

	return parse(t, `
storage:
  driver: sqlite
  dsn: `+filepath.Join(dir, "msh.db")+`
bodyStore:
  in: file://`+filepath.Join(dir, "in")+`
  out: file://`+filepath.Join(dir, "out")+`
  exceptions: file://`+filepath.Join(dir, "exceptions")+`
pmodes:
  sending: `+filepath.Join(dir, "sending")+`
  receiving: `+filepath.Join(dir, "receiving")+`
`+extra)
}

func TestNew_AssemblesAndRuns(t *testing.T) {
	cfg := writeConfig(t, `
useDefaultAgents: false
agents:
  - type: Deliver
    receiver:
      settings:
        pollInterval: 10ms
  - type: Retry
`)
	rt, err := New(context.Background(), cfg, nil, discard())
	require.NoError(t, err)
	defer rt.Close(context.Background())

	assert.Equal(t, []string{"Deliver", "Retry", "CleanUp"}, rt.Agents())
	require.NoError(t, rt.Repository().Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestNew_Failures(t *testing.T) {
	cfg := writeConfig(t, "agents: [{type: Deliver, steps: {normal: [Teleport]}}]")
	_, err := New(context.Background(), cfg, nil, discard())
	assert.ErrorIs(t, err, ErrUnknownKey)

	cfg = writeConfig(t, "useDefaultAgents: false")
	cfg.PModes.Sending = filepath.Join(t.TempDir(), "missing")
	_, err = New(context.Background(), cfg, nil, discard())
	assert.Error(t, err)

	cfg = writeConfig(t, "useDefaultAgents: false")
	cfg.BodyStore.Out = "s3://bucket/out"
	_, err = New(context.Background(), cfg, nil, discard())
	assert.Error(t, err)
}

func TestBuild_CustomStep(t *testing.T) {
	cfg := writeConfig(t, "useDefaultAgents: false\ncleanup: {enabled: false}")
	repo, bodies, err := OpenStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer repo.Close(context.Background())

	reg := NewRegistry()
	var ran bool
	reg.RegisterStep("Mark", func(*Env) msh.Step {
		return msh.StepFunc(func(_ context.Context, mc *msh.MessagingContext) (msh.StepResult, error) {
			ran = true
			return msh.Success(mc), nil
		})
	})

	env := NewEnv(cfg, repo, bodies, nil, discard())
	agent, err := Build(reg, env, Definition{
		Name:             "Custom",
		Receiver:         ReceiverDirectory,
		ReceiverSettings: Settings{"path": t.TempDir()},
		Transformer:      "ReceiveMessage",
		Steps:            []string{"Mark"},
		ExceptionHandler: HandlerInbound,
	})
	require.NoError(t, err)

	outcome, _ := agent.Process(context.Background(), msh.NewReceivedMessage(io.NopCloser(strings.NewReader("<x/>")), "application/xml", "test"))
	assert.Equal(t, msh.OutcomeSuccess, outcome)
	assert.True(t, ran)
}

func TestSettings(t *testing.T) {
	s := Settings{"poll": "250ms", "batch": "7", "rate": "2.5", "tls": "true", "bad": "soon"}

	d, err := s.Duration("poll", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	d, err = s.Duration("missing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	n, err := s.Int("batch", 1)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	f, err := s.Float("rate", 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, f, 1e-9)
	b, err := s.Bool("tls", false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = s.Duration("bad", 0)
	assert.ErrorContains(t, err, "setting bad")
	_, err = s.Int("bad", 0)
	assert.Error(t, err)
	assert.Equal(t, "x", s.String("missing", "x"))
}

func TestBuild_InvalidSettings(t *testing.T) {
	cfg := writeConfig(t, "useDefaultAgents: false")
	repo, bodies, err := OpenStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer repo.Close(context.Background())
	env := NewEnv(cfg, repo, bodies, nil, discard())

	def, err := Resolve(config.AgentConfig{
		Type:     TypeDeliver,
		Receiver: &config.ComponentConfig{Settings: map[string]string{"batchSize": "many"}},
	})
	require.NoError(t, err)
	_, err = Build(NewRegistry(), env, def)
	assert.ErrorContains(t, err, "agent Deliver")
}
