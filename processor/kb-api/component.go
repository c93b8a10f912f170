// Package kbapi provides HTTP endpoints for the knowledge-base engine.
// It exposes record creation, editing, lifecycle transitions, graph
// queries, the human gate queue, and snapshot export. Committed changes
// are published onto the change stream for the change-worker to cascade.
package kbapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/tenetgraph/tenet/engine"
	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/export"
	"github.com/tenetgraph/tenet/gate"
	"github.com/tenetgraph/tenet/graph"
	"github.com/tenetgraph/tenet/propagate"
	"github.com/tenetgraph/tenet/resolve"
	"github.com/tenetgraph/tenet/staleness"
	"github.com/tenetgraph/tenet/store"
)

// ChangeSubjectPrefix is the subject prefix for committed change events.
// Each event lands on <prefix><partition>, e.g. kb.change.p2.
const ChangeSubjectPrefix = "kb.change.p"

// Component implements the kb-api processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	engine      *engine.Engine
	snapshotter *export.Snapshotter

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state        atomic.Int32
	startTime    time.Time
	lastActivity time.Time
	mu           sync.RWMutex
	cancel       context.CancelFunc

	// Metrics.
	writesProcessed atomic.Int64
	errorsCount     atomic.Int64
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent constructs a kb-api Component from raw JSON config and deps.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults for any unset fields.
	defaults := DefaultConfig()
	if config.MaxHops == 0 {
		config.MaxHops = defaults.MaxHops
	}
	if config.Partitions == 0 {
		config.Partitions = defaults.Partitions
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "kb-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// NewLocal wraps an already-built engine for embedded deployments that
// serve the HTTP surface without NATS. Graph publishing is off; cascades
// run wherever the engine's emitter sends them.
func NewLocal(eng *engine.Engine, snap *export.Snapshotter, logger *slog.Logger) *Component {
	cfg := DefaultConfig()
	cfg.PublishGraph = false
	if logger == nil {
		logger = slog.Default()
	}
	return &Component{
		name:        "kb-api",
		config:      cfg,
		logger:      logger,
		engine:      eng,
		snapshotter: snap,
	}
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized kb-api",
		"max_hops", c.config.MaxHops,
		"partitions", c.config.Partitions)
	return nil
}

// Start builds the store and engine over the NATS connection.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		current := c.state.Load()
		if current == stateRunning || current == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	subCtx, cancel := context.WithCancel(ctx)

	if err := c.buildEngine(subCtx); err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)
	c.logger.Info("kb-api started",
		"max_hops", c.config.MaxHops,
		"partitions", c.config.Partitions)
	return nil
}

// buildEngine wires the store, detector, resolver, and gate queue over
// NATS-backed buckets. Change events go onto the change stream keyed by
// partition; the change-worker consumes them and runs propagation.
func (c *Component) buildEngine(ctx context.Context) error {
	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	kv := store.NewNATSKV(js)

	emitter := entity.EmitterFunc(func(ev entity.ChangeEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal change event: %w", err)
		}
		subject := fmt.Sprintf("%s%d", ChangeSubjectPrefix, ev.Partition(c.config.Partitions))
		return c.natsClient.PublishToStream(ctx, subject, data)
	})

	st, err := store.New(ctx, kv,
		store.WithEmitter(emitter),
		store.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	rules, err := loadRules(c.config.RulesPath)
	if err != nil {
		return err
	}

	queue := gate.NewKVQueue(kv)
	detector := staleness.NewDetector(rules, st, c.logger)

	resolver, err := resolve.DefaultRegistry.Get("consensus")
	if err != nil {
		return fmt.Errorf("get resolver: %w", err)
	}

	prop, err := propagate.NewEngine(propagate.Config{
		Store:    st,
		Detector: detector,
		Resolver: resolver,
		Queue:    queue,
		MaxHops:  c.config.MaxHops,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("build propagation engine: %w", err)
	}

	c.engine = engine.New(st, prop, queue, c.logger)
	c.snapshotter = export.NewSnapshotter(st)
	return nil
}

func loadRules(path string) (*staleness.RuleSet, error) {
	if path == "" {
		return staleness.NewRuleSet(staleness.DefaultRules()), nil
	}
	rules, err := staleness.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("load staleness rules: %w", err)
	}
	return staleness.NewRuleSet(rules), nil
}

// publishGraph mirrors a committed record into the semantic graph.
// Failures are logged, never surfaced to the API caller; the record
// store stays the source of truth.
func (c *Component) publishGraph(ctx context.Context, rec entity.Record) {
	if !c.config.PublishGraph {
		return
	}
	var err error
	switch r := rec.(type) {
	case *entity.Principle:
		err = graph.PublishPrinciple(ctx, c.natsClient, r)
	case *entity.Feature:
		err = graph.PublishFeature(ctx, c.natsClient, r)
	}
	if err != nil {
		c.logger.Warn("Graph publish failed", "id", rec.EntityID(), "error", err)
	}
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.state.Store(stateStopped)
	c.logger.Info("kb-api stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "kb-api",
		Type:        "processor",
		Description: "HTTP endpoints for knowledge-base records, gate review, and snapshots",
		Version:     "0.1.0",
	}
}

// InputPorts returns an empty port list. The API has no NATS inputs;
// it writes to the change stream as a side effect of commits.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns an empty port list. Commits land on the change
// stream subjects directly rather than through declared ports.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return kbAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	c.mu.RLock()
	lastActivity := c.lastActivity
	c.mu.RUnlock()
	return component.FlowMetrics{
		LastActivity: lastActivity,
	}
}
