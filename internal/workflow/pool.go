package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// ClaimRepo is the eligibility-scan surface the pool polls.
type ClaimRepo interface {
	ClaimEligible(ctx context.Context, limit int) ([]domain.WorkflowInstance, error)
}

// Pool scans for eligible instances on an interval and fans them out to a
// fixed set of workers. Instances are partitioned by the claim query's
// SKIP LOCKED and serialized by the executor's lease, so pools on multiple
// hosts coexist without coordination.
type Pool struct {
	instances ClaimRepo
	executor  *Executor

	workers      int
	scanInterval time.Duration
	batchSize    int

	queue  chan domain.WorkflowInstance
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool over the given claim source and executor.
func NewPool(instances ClaimRepo, executor *Executor, workers int, scanInterval time.Duration, batchSize int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if scanInterval <= 0 {
		scanInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Pool{
		instances:    instances,
		executor:     executor,
		workers:      workers,
		scanInterval: scanInterval,
		batchSize:    batchSize,
		queue:        make(chan domain.WorkflowInstance),
	}
}

// Start launches the scan loop and the workers.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.scanLoop(ctx)

	logger.Info("workflow pool started",
		"workers", p.workers,
		"scan_interval", p.scanInterval.String())
}

// Stop cancels the loops and waits up to 30 seconds for in-flight steps.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("workflow pool stopped")
	case <-time.After(30 * time.Second):
		logger.Warn("workflow pool stop timed out")
	}
}

func (p *Pool) scanLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanOnce(ctx)
		}
	}
}

// scanOnce claims one batch and hands it to the workers. Dispatch blocks
// when all workers are busy, which naturally throttles claiming.
func (p *Pool) scanOnce(ctx context.Context) {
	start := time.Now()
	defer func() { metricScanDuration.Observe(time.Since(start).Seconds()) }()

	claimed, err := p.instances.ClaimEligible(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("eligibility scan failed", "error", err.Error())
		}
		return
	}
	if len(claimed) == 0 {
		return
	}
	metricInstancesClaimed.Add(float64(len(claimed)))
	logger.Debug("claimed instances", "count", len(claimed))

	for _, inst := range claimed {
		select {
		case p.queue <- inst:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case inst := <-p.queue:
			if err := p.executor.Advance(ctx, &inst); err != nil {
				metricAdvanceErrors.Inc()
				logger.Error("instance advance failed",
					"worker", id,
					"instance_id", inst.ID.String(),
					"error", err.Error())
				continue
			}
			if inst.Status == domain.InstanceCompleted {
				metricInstancesCompleted.Inc()
			}
		}
	}
}
