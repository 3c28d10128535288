package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"

	"github.com/kestrel-systems/harness/internal/agentexec"
	"github.com/kestrel-systems/harness/internal/config"
	"github.com/kestrel-systems/harness/internal/engine"
	"github.com/kestrel-systems/harness/internal/engine/inmem"
	"github.com/kestrel-systems/harness/internal/engine/temporal"
	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/manager"
	"github.com/kestrel-systems/harness/internal/plan"
	"github.com/kestrel-systems/harness/internal/store"
	"github.com/kestrel-systems/harness/internal/store/memstore"
	"github.com/kestrel-systems/harness/internal/store/mongostore"
	"github.com/kestrel-systems/harness/internal/store/redisstore"
	"github.com/kestrel-systems/harness/internal/telemetry"
)

// App bundles the manager a harnessd invocation drives and the config it
// was built from.
type App struct {
	Manager *manager.Manager
	Config  config.Config
}

// NewApp wires a Manager from cfg: it dials the configured store/engine
// backends, registers the built-in "echo" demonstration agent (mirroring
// goa-ai's stubPlanner demo agent), and returns the assembled App.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	bus := events.NewBus()
	logger := telemetry.NewClueLogger()

	primary, err := buildBackend(ctx, cfg.Store.Primary)
	if err != nil {
		return nil, fmt.Errorf("cli: primary store: %w", err)
	}
	var fallback store.Store
	if cfg.Store.Fallback.Backend != "" {
		fallback, err = buildBackend(ctx, cfg.Store.Fallback)
		if err != nil {
			return nil, fmt.Errorf("cli: fallback store: %w", err)
		}
	}
	bridge := store.NewBridge(primary, fallback, bus)

	eng, err := buildEngine(cfg.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("cli: engine: %w", err)
	}

	m, err := manager.New(manager.Options{
		Engine:      eng,
		Bridge:      bridge,
		Bus:         bus,
		Logger:      logger,
		DepthCap:    cfg.Harness.DepthCap,
		TaskQueue:   cfg.Engine.TaskQueue,
		IDGenerator: nil, // defaults to uuid.NewString
	})
	if err != nil {
		return nil, fmt.Errorf("cli: new manager: %w", err)
	}

	if err := m.RegisterAgent(manager.AgentRegistration{
		Name:        "echo",
		Executor:    agentexec.Stub{},
		PlanBuilder: echoPlan,
	}); err != nil {
		return nil, err
	}

	return &App{Manager: m, Config: cfg}, nil
}

// echoPlan builds the single-step demonstration plan the "echo" agent
// runs: one step, no dependencies, non-critical so it never gates at
// autonomy level 3.
func echoPlan(taskID string) ([]plan.StepSpec, error) {
	return []plan.StepSpec{{ID: "respond", Description: taskID}}, nil
}

func buildBackend(ctx context.Context, b config.BackendConfig) (store.Store, error) {
	switch b.Backend {
	case "", "memory":
		return memstore.New(), nil
	case "mongo":
		client, err := mongodriver.Connect(options.Client().ApplyURI(b.DSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return mongostore.NewStoreFromMongo(mongostore.Options{Client: client, Database: "harness"})
	case "redis":
		return redisstore.New(redisstore.Options{Client: redis.NewClient(&redis.Options{Addr: b.DSN})})
	default:
		return nil, fmt.Errorf("unknown store backend %q", b.Backend)
	}
}

func buildEngine(cfg config.EngineConfig, logger telemetry.Logger) (engine.Engine, error) {
	switch cfg.Backend {
	case "", "inmem":
		return inmem.New(), nil
	case "temporal":
		c, err := client.Dial(client.Options{HostPort: cfg.HostPort, Namespace: cfg.Namespace})
		if err != nil {
			return nil, fmt.Errorf("dial temporal: %w", err)
		}
		return temporal.New(temporal.Options{
			Client:        c,
			WorkerOptions: temporal.WorkerOptions{TaskQueue: cfg.TaskQueue},
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
	}
}
