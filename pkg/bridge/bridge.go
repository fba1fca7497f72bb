// Package bridge forwards messages between ports and external endpoints.
//
// A Pump drains the inboxes of all active ports to a set of Sinks on every
// tick. Endpoints feed text back to ports through an Injector, which queues
// it for transmission.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/uartlink/pkg/framework"
	"github.com/robotalks/uartlink/pkg/uart"
)

// Direction of a message relative to the port.
type Direction int

const (
	// Inbound messages were received from the port.
	Inbound Direction = iota
	// Outbound messages are to be sent to the port.
	Outbound
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Outbound {
		return "tx"
	}
	return "rx"
}

// ParseDirection parses "rx" or "tx".
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "rx":
		return Inbound, true
	case "tx":
		return Outbound, true
	}
	return Inbound, false
}

// Message is a framed text message crossing the bridge.
type Message struct {
	Port uart.PortID
	Dir  Direction
	Text string
	Time time.Time
}

// Sink receives messages drained from ports.
type Sink interface {
	Publish(Message) error
}

// SinkFunc is the func form of Sink.
type SinkFunc func(Message) error

// Publish implements Sink.
func (f SinkFunc) Publish(msg Message) error {
	return f(msg)
}

// Injector queues text for transmission on a port.
type Injector interface {
	Inject(port uart.PortID, text string) error
}

// Pump moves messages between a Registry and the bridge endpoints.
type Pump struct {
	Registry *uart.Registry
	Interval time.Duration

	sinks []Sink
	lock  sync.RWMutex
}

// NewPump creates a Pump draining reg every interval.
func NewPump(reg *uart.Registry, interval time.Duration) *Pump {
	return &Pump{Registry: reg, Interval: interval}
}

// AddSink registers a Sink.
func (p *Pump) AddSink(sinks ...Sink) *Pump {
	p.lock.Lock()
	p.sinks = append(p.sinks, sinks...)
	p.lock.Unlock()
	return p
}

// Inject implements Injector.
func (p *Pump) Inject(port uart.PortID, text string) error {
	err := p.Registry.Send(port, text)
	if uart.IsWarning(err) {
		return nil
	}
	return err
}

// Name implements framework.Named.
func (p *Pump) Name() string {
	return "bridge-pump"
}

// Run implements framework.Runnable.
func (p *Pump) Run(ctx context.Context) error {
	return fx.Every(p.Name(), p.Interval, fx.RoutineFunc(p.Drain)).Run(ctx)
}

// Drain forwards every message waiting in the inboxes to all sinks.
func (p *Pump) Drain() error {
	p.lock.RLock()
	sinks := p.sinks
	p.lock.RUnlock()
	var errs fx.AggregatedError
	for _, port := range p.Registry.Ports() {
		for {
			text, err := p.Registry.Receive(port)
			if err != nil {
				if err != uart.ErrNoPendingMessages {
					errs.Add(err)
				}
				break
			}
			msg := Message{Port: port, Dir: Inbound, Text: text, Time: time.Now()}
			glog.V(4).Infof("%s: forward %q", port, text)
			for _, sink := range sinks {
				errs.Add(sink.Publish(msg))
			}
		}
	}
	return errs.Aggregate()
}
