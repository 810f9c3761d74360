package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/distlock"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/campaign"
)

const (
	// DefaultSchedulerPollInterval is how often to check for due campaigns.
	DefaultSchedulerPollInterval = 60 * time.Second

	// DueBatchLimit caps how many due campaigns one scan picks up.
	DueBatchLimit = 10
)

// CampaignRunner is the part of the campaign service the scheduler drives.
type CampaignRunner interface {
	Due(ctx context.Context, limit int) ([]domain.Campaign, error)
	SendNow(ctx context.Context, id string) (*campaign.SendReport, error)
}

// ScanResult summarises one pass over due campaigns.
type ScanResult struct {
	Skipped bool
	Due     int
	Sent    int
	Failed  int
}

// CampaignScheduler periodically hands due campaigns to the campaign
// service. A scan never overlaps another scan in the same process, and
// with a lock configured never overlaps one in another process either.
type CampaignScheduler struct {
	runner       CampaignRunner
	lock         distlock.Lock
	workerID     string
	pollInterval time.Duration

	scanning atomic.Bool

	// Stats
	scans              int64
	campaignsProcessed int64
	errors             int64

	scansTotal     *prometheus.CounterVec
	campaignsTotal *prometheus.CounterVec

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// SchedulerOption customises a CampaignScheduler.
type SchedulerOption func(*CampaignScheduler)

// WithPollInterval overrides DefaultSchedulerPollInterval.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(cs *CampaignScheduler) {
		if d > 0 {
			cs.pollInterval = d
		}
	}
}

// WithLock makes scans mutually exclusive across instances.
func WithLock(l distlock.Lock) SchedulerOption {
	return func(cs *CampaignScheduler) { cs.lock = l }
}

// WithRegisterer exports scheduler counters to reg.
func WithRegisterer(reg prometheus.Registerer) SchedulerOption {
	return func(cs *CampaignScheduler) {
		if reg != nil {
			reg.MustRegister(cs.scansTotal, cs.campaignsTotal)
		}
	}
}

// NewCampaignScheduler creates a scheduler for runner.
func NewCampaignScheduler(runner CampaignRunner, opts ...SchedulerOption) *CampaignScheduler {
	cs := &CampaignScheduler{
		runner:       runner,
		workerID:     fmt.Sprintf("scheduler-%s-%d", getHostname(), time.Now().UnixNano()%10000),
		pollInterval: DefaultSchedulerPollInterval,
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailflow_scheduler_scans_total",
			Help: "Scheduler scans by result.",
		}, []string{"result"}),
		campaignsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailflow_scheduler_campaigns_total",
			Help: "Due campaigns handed to the sender by result.",
		}, []string{"result"}),
	}
	for _, o := range opts {
		o(cs)
	}
	return cs
}

// Start begins the scheduler polling loop. The first scan runs immediately.
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	logger.Info("campaign scheduler starting", "worker_id", cs.workerID, "interval", cs.pollInterval.String())

	cs.wg.Add(1)
	go cs.schedulerLoop()
	return nil
}

// Stop cancels the loop and waits for an in-progress scan to return.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	cs.cancel()
	cs.wg.Wait()
	logger.Info("campaign scheduler stopped",
		"worker_id", cs.workerID,
		"scans", atomic.LoadInt64(&cs.scans),
		"campaigns", atomic.LoadInt64(&cs.campaignsProcessed),
		"errors", atomic.LoadInt64(&cs.errors))
}

// IsRunning reports whether Start has been called without a matching Stop.
func (cs *CampaignScheduler) IsRunning() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.running
}

func (cs *CampaignScheduler) schedulerLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	cs.tick()
	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.tick()
		}
	}
}

func (cs *CampaignScheduler) tick() {
	if _, err := cs.ScanOnce(cs.ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("campaign scan failed", "worker_id", cs.workerID, "error", err)
	}
}

// ScanOnce sends every campaign that is due now. It returns a Skipped
// result when another scan holds the in-process flag or the shared lock.
func (cs *CampaignScheduler) ScanOnce(ctx context.Context) (ScanResult, error) {
	if !cs.scanning.CompareAndSwap(false, true) {
		cs.scansTotal.WithLabelValues("overlap").Inc()
		return ScanResult{Skipped: true}, nil
	}
	defer cs.scanning.Store(false)

	if cs.lock != nil {
		ok, err := cs.lock.Acquire(ctx)
		if err != nil {
			atomic.AddInt64(&cs.errors, 1)
			cs.scansTotal.WithLabelValues("error").Inc()
			return ScanResult{}, fmt.Errorf("acquire scan lock: %w", err)
		}
		if !ok {
			cs.scansTotal.WithLabelValues("locked").Inc()
			return ScanResult{Skipped: true}, nil
		}
		defer func() {
			if err := cs.lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release scan lock failed", "worker_id", cs.workerID, "error", err)
			}
		}()
	}

	atomic.AddInt64(&cs.scans, 1)
	due, err := cs.runner.Due(ctx, DueBatchLimit)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		cs.scansTotal.WithLabelValues("error").Inc()
		return ScanResult{}, fmt.Errorf("list due campaigns: %w", err)
	}

	res := ScanResult{Due: len(due)}
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		report, err := cs.runner.SendNow(ctx, c.ID)
		atomic.AddInt64(&cs.campaignsProcessed, 1)
		switch {
		case errors.Is(err, campaign.ErrAlreadySending):
			// Picked up by someone else between listing and claiming.
			cs.campaignsTotal.WithLabelValues("claimed_elsewhere").Inc()
		case err != nil:
			res.Failed++
			atomic.AddInt64(&cs.errors, 1)
			cs.campaignsTotal.WithLabelValues("error").Inc()
			logger.Error("scheduled campaign failed", "campaign_id", c.ID, "error", err)
		default:
			res.Sent++
			cs.campaignsTotal.WithLabelValues("sent").Inc()
			logger.Info("scheduled campaign processed",
				"campaign_id", c.ID,
				"recipients", report.Recipients,
				"sent", report.Sent,
				"failed", report.Failed)
		}
	}

	cs.scansTotal.WithLabelValues("ok").Inc()
	return res, nil
}

func getHostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "mailflow"
}
