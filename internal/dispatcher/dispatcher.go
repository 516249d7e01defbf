// Package dispatcher runs download tasks on a fixed pool of workers fed by
// a bounded queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/queue/memory"
	"github.com/JakeFAU/album-ripper/internal/rip"
)

// Dispatcher fans out queued tasks to a pool of workers. It implements
// rip.Pool; Run must be active for submitted tasks to make progress.
type Dispatcher struct {
	queue       *memory.Queue[rip.Task]
	concurrency int
	logger      *zap.Logger
	inflight    sync.WaitGroup

	// stopMu is held for reading by Submit and for writing by Run when it
	// flips stopped, so no task lands in the queue after the final drain.
	stopMu  sync.RWMutex
	stopped bool
	done    context.Context
	halt    context.CancelFunc
}

// New creates a Dispatcher with concurrency workers.
func New(queue *memory.Queue[rip.Task], concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	done, halt := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:       queue,
		concurrency: concurrency,
		logger:      logger,
		done:        done,
		halt:        halt,
	}
}

// Submit queues task, blocking while the queue is full. Once Run has
// returned, Submit fails with rip.ErrPoolStopped.
func (d *Dispatcher) Submit(ctx context.Context, task rip.Task) error {
	d.stopMu.RLock()
	defer d.stopMu.RUnlock()
	if d.stopped {
		return fmt.Errorf("queue enqueue: %w", rip.ErrPoolStopped)
	}
	// A full queue must not outlive the workers.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(d.done, cancel)
	defer release()

	d.inflight.Add(1)
	if err := d.queue.Enqueue(ctx, task); err != nil {
		d.inflight.Done()
		if d.done.Err() != nil {
			return fmt.Errorf("queue enqueue: %w", rip.ErrPoolStopped)
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Wait blocks until every submitted task has run.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Run starts all workers and blocks until the context finishes or the queue
// is closed. On cancellation the workers still run what is left in the
// queue, with the cancelled context, so every task reports. The dispatcher
// refuses new tasks after Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	wg.Wait()

	d.halt()
	d.stopMu.Lock()
	d.stopped = true
	d.stopMu.Unlock()
	// Tasks that were queued while the workers were exiting.
	d.drain(ctx, -1)
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.drain(ctx, id)
			return
		}
		d.runTask(ctx, id, task)
	}
}

func (d *Dispatcher) drain(ctx context.Context, id int) {
	for {
		task, ok := d.queue.TryDequeue()
		if !ok {
			return
		}
		d.runTask(ctx, id, task)
	}
}

func (d *Dispatcher) runTask(ctx context.Context, id int, task rip.Task) {
	defer d.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	task.Run(ctx)
}
