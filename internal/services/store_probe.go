package services

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pinger is anything whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreProbe periodically pings the record store and logs when it becomes
// unavailable or recovers. Steady states are not logged.
type StoreProbe struct {
	target  Pinger
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	healthy bool

	cron *cron.Cron
}

// NewStoreProbe constructs a probe that gives each ping timeout to answer.
func NewStoreProbe(target Pinger, log *zap.Logger, timeout time.Duration) *StoreProbe {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StoreProbe{target: target, log: log, timeout: timeout, healthy: true}
}

// Check pings the store once and records the outcome.
func (p *StoreProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.target.Ping(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case err != nil && p.healthy:
		p.log.Error("record store unavailable", zap.Error(err))
	case err == nil && !p.healthy:
		p.log.Info("record store recovered")
	}
	p.healthy = err == nil
	return err
}

// Start runs Check on schedule, e.g. "@every 1m" or a five-field cron line.
func (p *StoreProbe) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		_ = p.Check(context.Background())
	}); err != nil {
		return err
	}
	c.Start()
	p.cron = c
	p.log.Info("store probe started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (p *StoreProbe) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}
