// Package changeworker provides a JetStream processor that cascades
// committed change events through the reference graph. It consumes one
// durable consumer per partition so each partition's events are handled
// serially in commit order, runs staleness assessment and propagation,
// and files escalations onto the gate queue.
package changeworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/gate"
	"github.com/tenetgraph/tenet/propagate"
	"github.com/tenetgraph/tenet/resolve"
	"github.com/tenetgraph/tenet/staleness"
	"github.com/tenetgraph/tenet/store"
)

// ChangeSubjectPrefix is the subject prefix change events arrive on.
// Partition k lands on <prefix>k, e.g. kb.change.p0.
const ChangeSubjectPrefix = "kb.change.p"

// Component implements the change-worker processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	prop  *propagate.Engine
	rules *staleness.RuleSet

	// One durable consumer per partition.
	consumers []jetstream.Consumer
	watcher   *staleness.RulesWatcher

	// Lifecycle.
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics.
	eventsProcessed atomic.Int64
	flagsWritten    atomic.Int64
	errorsCount     atomic.Int64
	lastActivityMu  sync.RWMutex
	lastActivity    time.Time
}

// NewComponent constructs a change-worker Component from raw JSON config
// and semstreams dependencies.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults for any unset fields.
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerPrefix == "" {
		config.ConsumerPrefix = defaults.ConsumerPrefix
	}
	if config.Partitions == 0 {
		config.Partitions = defaults.Partitions
	}
	if config.MaxHops == 0 {
		config.MaxHops = defaults.MaxHops
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "change-worker",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized change-worker",
		"stream", c.config.StreamName,
		"partitions", c.config.Partitions,
		"max_hops", c.config.MaxHops)
	return nil
}

// Start builds the propagation engine and begins consuming change events.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	if err := c.buildPipeline(subCtx, js); err != nil {
		c.rollbackStart(cancel)
		return err
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	c.consumers = make([]jetstream.Consumer, c.config.Partitions)
	for k := 0; k < c.config.Partitions; k++ {
		consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
			Durable:       fmt.Sprintf("%s-%d", c.config.ConsumerPrefix, k),
			FilterSubject: fmt.Sprintf("%s%d", ChangeSubjectPrefix, k),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       60 * time.Second,
			MaxDeliver:    3,
		})
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create consumer for partition %d: %w", k, err)
		}
		c.consumers[k] = consumer
		go c.consumeLoop(subCtx, k, consumer)
	}

	c.logger.Info("change-worker started",
		"stream", c.config.StreamName,
		"partitions", c.config.Partitions)
	return nil
}

// buildPipeline wires the store, detector, resolver, and gate queue over
// the shared NATS-backed buckets.
func (c *Component) buildPipeline(ctx context.Context, js jetstream.JetStream) error {
	kv := store.NewNATSKV(js)

	// The worker never writes records, so it carries no emitter; its
	// stale-flag writes do not re-enter the change stream.
	st, err := store.New(ctx, kv, store.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	c.rules = staleness.NewRuleSet(staleness.DefaultRules())
	if c.config.RulesPath != "" {
		rules, err := staleness.LoadRules(c.config.RulesPath)
		if err != nil {
			return fmt.Errorf("load staleness rules: %w", err)
		}
		c.rules = staleness.NewRuleSet(rules)

		if c.config.WatchRules {
			watcher, err := staleness.NewRulesWatcher(c.config.RulesPath, c.rules, c.logger)
			if err != nil {
				return fmt.Errorf("watch staleness rules: %w", err)
			}
			if err := watcher.Start(ctx); err != nil {
				return fmt.Errorf("start rules watcher: %w", err)
			}
			c.watcher = watcher
		}
	}

	resolver, err := resolve.DefaultRegistry.Get("consensus")
	if err != nil {
		return fmt.Errorf("get resolver: %w", err)
	}

	c.prop, err = propagate.NewEngine(propagate.Config{
		Store:    st,
		Detector: staleness.NewDetector(c.rules, st, c.logger),
		Resolver: resolver,
		Queue:    gate.NewKVQueue(kv),
		MaxHops:  c.config.MaxHops,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("build propagation engine: %w", err)
	}
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop fetches messages for one partition in a tight loop until
// the context is cancelled. Fetching one message at a time preserves
// commit order within the partition.
func (c *Component) consumeLoop(ctx context.Context, partition int, consumer jetstream.Consumer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "partition", partition, "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, partition, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "partition", partition, "error", msgs.Error())
		}
	}
}

// handleMessage cascades a single change event.
func (c *Component) handleMessage(ctx context.Context, partition int, msg jetstream.Msg) {
	c.eventsProcessed.Add(1)
	c.updateLastActivity()

	var ev entity.ChangeEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		c.errorsCount.Add(1)
		c.logger.Error("Failed to parse change event", "partition", partition, "error", err)
		// ACK unparseable messages; they will not succeed on retry.
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("Failed to ACK message", "error", ackErr)
		}
		return
	}

	res, err := c.prop.Run(ctx, ev)
	if err != nil {
		var bound *entity.CycleBoundExceededError
		if errors.As(err, &bound) {
			// The partial result is persisted; rerunning the same event
			// is idempotent and will not extend the cascade, so ACK and
			// surface the truncation in the log.
			c.logger.Warn("Cascade truncated at hop bound",
				"entity", ev.EntityID,
				"max_hops", bound.MaxHops,
				"flags_set", res.FlagsSet)
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.Warn("Failed to ACK message", "error", ackErr)
			}
			return
		}

		c.errorsCount.Add(1)
		c.logger.Error("Propagation failed",
			"entity", ev.EntityID,
			"partition", partition,
			"error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}

	c.flagsWritten.Add(int64(res.FlagsSet))
	if res.FlagsSet > 0 || res.Escalated > 0 {
		c.logger.Info("Cascade complete",
			"entity", ev.EntityID,
			"change", ev.Change,
			"flags_set", res.FlagsSet,
			"escalated", res.Escalated,
			"hops", res.Hops)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		c.logger.Warn("Failed to ACK message", "error", ackErr)
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			c.logger.Warn("Failed to stop rules watcher", "error", err)
		}
	}

	c.logger.Info("change-worker stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "change-worker",
		Type:        "processor",
		Description: "Cascades change events through the reference graph, one partition at a time",
		Version:     "0.1.0",
	}
}

// InputPorts returns an empty port list. The worker builds its own
// durable consumers, one per partition, at start.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns an empty port list. The worker writes flags and
// gate items to KV buckets rather than publishing messages.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return changeWorkerSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
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
	c.lastActivityMu.RLock()
	lastActivity := c.lastActivity
	c.lastActivityMu.RUnlock()
	return component.FlowMetrics{
		LastActivity: lastActivity,
	}
}
