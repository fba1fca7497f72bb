package framework

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is used when Periodic.Interval is not set.
const DefaultInterval = 100 * time.Millisecond

// Periodic runs a Routine once per Interval, measured from the start of each
// period rather than the end of the previous run, until the context is done.
// Routine errors are logged and never stop the task.
type Periodic struct {
	TaskName string
	Interval time.Duration
	Routine  Routine
	// Quiet marks errors which are expected outcomes (e.g. nothing to do).
	// They are logged at verbose level only.
	Quiet func(error) bool

	wakeUpCh chan struct{}
}

// Every creates a Periodic task.
func Every(name string, interval time.Duration, routine Routine) *Periodic {
	return &Periodic{
		TaskName: name,
		Interval: interval,
		Routine:  routine,
		wakeUpCh: make(chan struct{}, 1),
	}
}

// WithQuiet sets Quiet.
func (p *Periodic) WithQuiet(quiet func(error) bool) *Periodic {
	p.Quiet = quiet
	return p
}

// Name implements Named.
func (p *Periodic) Name() string {
	return p.TaskName
}

// TriggerNext schedules an extra run as soon as possible.
func (p *Periodic) TriggerNext() {
	select {
	case p.wakeUpCh <- struct{}{}:
	default:
	}
}

// Run implements Runnable.
func (p *Periodic) Run(ctx context.Context) error {
	if p.wakeUpCh == nil {
		p.wakeUpCh = make(chan struct{}, 1)
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runOnce()
		case <-p.wakeUpCh:
			p.runOnce()
		}
	}
}

func (p *Periodic) runOnce() {
	err := p.Routine.Routine()
	if err == nil {
		return
	}
	if p.Quiet != nil && p.Quiet(err) {
		glog.V(2).Infof("%s: %v", p.TaskName, err)
		return
	}
	glog.Errorf("%s: %v", p.TaskName, err)
}
