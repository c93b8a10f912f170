package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/propagate"
)

// DefaultPartitions is the in-process worker count. Events partition by
// project so each project's cascades run serially.
const DefaultPartitions = 4

// partitionBuffer bounds each worker's backlog before Dispatch blocks.
const partitionBuffer = 256

// Dispatcher fans change events out to per-partition propagation
// workers. It implements entity.Emitter so it can plug straight into
// the store. Within a partition, events run in emission order.
type Dispatcher struct {
	prop       *propagate.Engine
	partitions []chan entity.ChangeEvent
	logger     *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewDispatcher creates a dispatcher with n partitions (DefaultPartitions
// when n <= 0).
func NewDispatcher(prop *propagate.Engine, n int, logger *slog.Logger) *Dispatcher {
	if n <= 0 {
		n = DefaultPartitions
	}
	if logger == nil {
		logger = slog.Default()
	}
	chans := make([]chan entity.ChangeEvent, n)
	for i := range chans {
		chans[i] = make(chan entity.ChangeEvent, partitionBuffer)
	}
	return &Dispatcher{prop: prop, partitions: chans, logger: logger}
}

// Start launches the partition workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.ctx, d.cancel = context.WithCancel(ctx)
		for i, ch := range d.partitions {
			d.wg.Add(1)
			go d.work(i, ch)
		}
		d.logger.Info("propagation workers started", "partitions", len(d.partitions))
	})
}

// Stop drains in-flight events and shuts the workers down.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		for _, ch := range d.partitions {
			close(ch)
		}
		d.wg.Wait()
		if d.cancel != nil {
			d.cancel()
		}
		d.logger.Info("propagation workers stopped")
	})
}

// Emit implements entity.Emitter. It blocks when the partition's
// backlog is full, back-pressuring the store's write path rather than
// dropping cascades.
func (d *Dispatcher) Emit(ev entity.ChangeEvent) error {
	if d.ctx == nil {
		return fmt.Errorf("dispatcher not started")
	}
	select {
	case d.partitions[ev.Partition(len(d.partitions))] <- ev:
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

func (d *Dispatcher) work(partition int, ch <-chan entity.ChangeEvent) {
	defer d.wg.Done()
	for ev := range ch {
		if _, err := d.prop.Run(d.ctx, ev); err != nil {
			// Truncation and transient failures alike are logged and
			// the worker moves on; flags written so far are persisted
			// and the next event for the entity re-merges.
			d.logger.Error("propagation run failed",
				"partition", partition, "entity", ev.EntityID, "error", err)
		}
	}
}
