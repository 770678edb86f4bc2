// Package chaos injects seeded delays and drops in front of the broker
// so timeout and retry paths can be exercised against the simulator.
package chaos

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Fault is what chaos decided for one broker call.
type Fault struct {
	Delay time.Duration
	Drop  bool
}

// Chaos provides deterministic failure injection
type Chaos struct {
	cfg    *Config
	logger *zap.Logger
	start  time.Time

	// resolved from cfg and its profile
	dropPct  int
	delayMin int
	delayMax int

	mu       sync.Mutex
	rng      *rand.Rand
	injected map[string]int
}

// New creates a new Chaos instance. A profile that fails to parse is
// logged and ignored; the explicit settings still apply.
func New(cfg *Config, logger *zap.Logger) *Chaos {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chaos{
		cfg:      cfg,
		logger:   logger,
		start:    time.Now(),
		dropPct:  cfg.DropPct,
		delayMin: cfg.DelayMsMin,
		delayMax: cfg.DelayMsMax,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		injected: make(map[string]int),
	}

	if cfg.Profile == "" {
		return c
	}
	drop, lo, hi, err := ParseProfile(cfg.Profile)
	if err != nil {
		logger.Warn("ignoring chaos profile", zap.String("profile", cfg.Profile), zap.Error(err))
		return c
	}
	if drop > 0 {
		c.dropPct = drop
	}
	if lo > 0 || hi > 0 {
		c.delayMin, c.delayMax = lo, hi
	}
	return c
}

// EnabledFor reports whether op is still subject to injection.
func (c *Chaos) EnabledFor(op string) bool {
	if !c.cfg.Enabled {
		return false
	}
	if c.cfg.WindowMs > 0 && time.Since(c.start) > time.Duration(c.cfg.WindowMs)*time.Millisecond {
		return false
	}
	return len(c.cfg.TargetOps) == 0 || slices.Contains(c.cfg.TargetOps, op)
}

// Decide draws the delay and drop for one call to op.
func (c *Chaos) Decide(op string) Fault {
	if !c.EnabledFor(op) {
		return Fault{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var f Fault
	if ms := c.delayLocked(); ms > 0 {
		f.Delay = time.Duration(ms) * time.Millisecond
	}
	f.Drop = c.dropPct > 0 && c.rng.Intn(100) < c.dropPct
	if f.Drop {
		c.injected[op]++
	}
	return f
}

func (c *Chaos) delayLocked() int {
	switch {
	case c.delayMin == 0 && c.delayMax == 0:
		return 0
	case c.delayMin >= c.delayMax:
		return c.delayMin
	default:
		return c.delayMin + c.rng.Intn(c.delayMax-c.delayMin+1)
	}
}

// MaybeDrop reports whether a call to op should be dropped.
func (c *Chaos) MaybeDrop(op string) bool {
	return c.Decide(op).Drop
}

// Dropped returns how many calls were dropped, per operation.
func (c *Chaos) Dropped() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.injected))
	for op, n := range c.injected {
		out[op] = n
	}
	return out
}

func (c *Chaos) wait(ctx context.Context, op string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	c.logger.Info("chaos delay injected", zap.String("op", op), zap.Duration("delay", d))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
