package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/cleanup"
	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/internal/exceptions"
	"github.com/sirosfoundation/go-msh/internal/msh"
	"github.com/sirosfoundation/go-msh/internal/senders"
	"github.com/sirosfoundation/go-msh/internal/server"
	"github.com/sirosfoundation/go-msh/internal/steps"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/internal/transformers"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

// Runner is a long-running component. Start blocks until ctx is done.
type Runner interface {
	Name() string
	Start(ctx context.Context) error
}

// Runtime holds the agents of one MSH instance and their collaborators
type Runtime struct {
	cfg     *config.Config
	env     *Env
	runners []Runner
	server  *server.Server
	logger  *slog.Logger
}

// NewEnv wires the shared collaborators of the components
func NewEnv(cfg *config.Config, repo storage.Repository, bodies bodystore.Store, pmodes pmode.Source, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	reg := senders.NewRegistry()
	return &Env{
		Repo:    repo,
		Bodies:  bodies,
		PModes:  pmodes,
		Senders: reg,
		Steps: &steps.Deps{
			Repo:        repo,
			Bodies:      bodies,
			PModes:      pmodes,
			Senders:     reg,
			InLocation:  cfg.BodyStore.In,
			OutLocation: cfg.BodyStore.Out,
			Logger:      logger,
		},
		Transformers: &transformers.Dependencies{
			Bodies: bodies,
			PModes: pmodes,
		},
		Exceptions: &exceptions.Deps{
			Repo:     repo,
			Bodies:   bodies,
			PModes:   pmodes,
			Location: cfg.BodyStore.Exceptions,
			Logger:   logger,
		},
		Logger: logger,
	}
}

// New builds the runtime described by cfg: it opens storage, loads the
// P-Modes and assembles every enabled agent. Unknown component keys fail.
func New(ctx context.Context, cfg *config.Config, reg *Registry, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = NewRegistry()
	}

	pmodes, err := pmode.LoadDirectories(cfg.PModes.Sending, cfg.PModes.Receiving)
	if err != nil {
		return nil, fmt.Errorf("loading pmodes: %w", err)
	}
	repo, bodies, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if err := checkLocations(bodies, cfg); err != nil {
		repo.Close(ctx)
		return nil, err
	}

	rt, err := Assemble(cfg, reg, NewEnv(cfg, repo, bodies, pmodes, logger))
	if err != nil {
		repo.Close(ctx)
		return nil, err
	}
	logger.Info("runtime assembled",
		"id", cfg.ID,
		"storage", cfg.Storage.Driver,
		"sending_pmodes", len(pmodes.SendingPModes()),
		"receiving_pmodes", len(pmodes.ReceivingPModes()),
		"agents", len(rt.runners))
	return rt, nil
}

// Assemble builds the agents of cfg over an existing Env
func Assemble(cfg *config.Config, reg *Registry, env *Env) (*Runtime, error) {
	defs, err := Definitions(cfg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{cfg: cfg, env: env, logger: env.Logger}
	for _, def := range defs {
		agent, err := Build(reg, env, def)
		if err != nil {
			return nil, err
		}
		rt.runners = append(rt.runners, agent)
	}

	if cfg.CleanupEnabled() {
		ca, err := cleanup.New(env.Repo, env.Bodies, cleanup.Config{
			Schedule:      cfg.Cleanup.Schedule,
			RetentionDays: cfg.RetentionDays,
		}, env.Logger)
		if err != nil {
			return nil, err
		}
		rt.runners = append(rt.runners, ca)
	}

	if cfg.Metrics.Enabled {
		rt.server = server.New(server.Config{
			Address: cfg.Metrics.Address,
			Metrics: true,
			Agents:  rt.Agents(),
		}, env.Repo, env.Logger)
	}
	return rt, nil
}

// Build creates the agent of a definition
func Build(reg *Registry, env *Env, def Definition) (*msh.Agent, error) {
	wrap := func(err error) error { return fmt.Errorf("agent %s: %w", def.Name, err) }

	rf, err := reg.Receiver(def.Receiver)
	if err != nil {
		return nil, wrap(err)
	}
	receiver, err := rf(env, def.Name, def.ReceiverSettings)
	if err != nil {
		return nil, wrap(err)
	}
	tf, err := reg.Transformer(def.Transformer)
	if err != nil {
		return nil, wrap(err)
	}
	hf, err := reg.ExceptionHandler(def.ExceptionHandler)
	if err != nil {
		return nil, wrap(err)
	}
	normal, err := buildSteps(reg, env, def.Steps)
	if err != nil {
		return nil, wrap(err)
	}
	errorSteps, err := buildSteps(reg, env, def.ErrorSteps)
	if err != nil {
		return nil, wrap(err)
	}

	return msh.NewAgent(msh.AgentConfig{
		Name:             def.Name,
		Receiver:         receiver,
		Transformer:      tf(env),
		Steps:            normal,
		ErrorSteps:       errorSteps,
		ExceptionHandler: hf(env),
		Logger:           env.Logger,
	})
}

func buildSteps(reg *Registry, env *Env, keys []string) ([]msh.Step, error) {
	out := make([]msh.Step, 0, len(keys))
	for _, key := range keys {
		f, err := reg.Step(key)
		if err != nil {
			return nil, err
		}
		out = append(out, f(env))
	}
	return out, nil
}

// Agents returns the names of the runtime's agents
func (r *Runtime) Agents() []string {
	names := make([]string, 0, len(r.runners))
	for _, a := range r.runners {
		names = append(names, a.Name())
	}
	return names
}

// Repository returns the repository the runtime works on
func (r *Runtime) Repository() storage.Repository { return r.env.Repo }

// Run starts every agent and blocks until ctx is done or one of them fails.
// A failing agent stops the others.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, a := range r.runners {
		g.Go(func() error {
			if err := a.Start(gctx); err != nil {
				return fmt.Errorf("agent %s: %w", a.Name(), err)
			}
			return nil
		})
	}
	if r.server != nil {
		g.Go(func() error { return r.server.Start(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases the senders and the repository
func (r *Runtime) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return errors.Join(r.env.Senders.Close(), r.env.Repo.Close(ctx))
}
