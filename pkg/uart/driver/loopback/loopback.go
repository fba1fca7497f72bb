// Package loopback provides a simulated DMA serial engine.
//
// Each port has a circular receive transfer counting down from the RX buffer
// capacity and a counted transmit transfer. Transmitted bytes are delivered
// to the receive side of a wired port (the port itself by default). Bytes only
// move when Step is called, which makes tick interleavings reproducible.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/uartlink/pkg/framework"
	"github.com/robotalks/uartlink/pkg/uart"
)

var (
	// ErrUnknownPort indicates the port is not provided by the driver.
	ErrUnknownPort = errors.New("unknown port")
	// ErrNotConfigured indicates the port was not initialized.
	ErrNotConfigured = errors.New("port not configured")
	// ErrArmTooLong indicates an armed transfer exceeds the TX buffer.
	ErrArmTooLong = errors.New("transfer longer than tx buffer")
)

// Driver implements uart.PortDriver in memory.
type Driver struct {
	available map[uart.PortID]bool
	channels  map[uart.PortID]*channel
	wires     map[uart.PortID]uart.PortID
	lock      sync.Mutex
}

type channel struct {
	cfg uart.Config
	rx  *uart.RingBuffer
	tx  *uart.RingBuffer

	rxRemaining int
	incoming    []byte

	txData      []byte
	txRemaining int
	txEnabled   bool
	sent        []byte

	fault error
}

// New creates a Driver. With no ports given every port id is available.
func New(ports ...uart.PortID) *Driver {
	d := &Driver{
		channels: make(map[uart.PortID]*channel),
		wires:    make(map[uart.PortID]uart.PortID),
	}
	if len(ports) > 0 {
		d.available = make(map[uart.PortID]bool)
		for _, port := range ports {
			d.available[port] = true
		}
	}
	return d
}

// Wire routes bytes transmitted on from into the receiver of to.
func (d *Driver) Wire(from, to uart.PortID) *Driver {
	d.lock.Lock()
	d.wires[from] = to
	d.lock.Unlock()
	return d
}

// Initialize implements uart.PortDriver.
func (d *Driver) Initialize(port uart.PortID, cfg uart.Config, rx, tx *uart.RingBuffer) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.available != nil && !d.available[port] {
		return fmt.Errorf("%w: %s", ErrUnknownPort, port)
	}
	d.channels[port] = &channel{
		cfg:         cfg,
		rx:          rx,
		tx:          tx,
		rxRemaining: rx.Cap(),
	}
	return nil
}

// Release implements uart.PortReleaser.
func (d *Driver) Release(port uart.PortID) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.channels, port)
	return nil
}

// StopTransmission implements uart.PortDriver.
func (d *Driver) StopTransmission(port uart.PortID) error {
	return d.with(port, func(ch *channel) error {
		ch.txEnabled = false
		return nil
	})
}

// BytesRemaining implements uart.PortDriver.
func (d *Driver) BytesRemaining(port uart.PortID) (n int, err error) {
	err = d.with(port, func(ch *channel) error {
		n = ch.txRemaining
		return nil
	})
	return
}

// ArmTransmission implements uart.PortDriver.
func (d *Driver) ArmTransmission(port uart.PortID, length int) error {
	return d.with(port, func(ch *channel) error {
		if length < 0 || length > ch.tx.Cap() {
			return ErrArmTooLong
		}
		ch.txData = append(ch.txData[:0], ch.tx.Bytes()[:length]...)
		ch.txRemaining = length
		return nil
	})
}

// ResumeTransmission implements uart.PortDriver. Resuming an in-flight
// transfer only re-enables the transmitter.
func (d *Driver) ResumeTransmission(port uart.PortID) error {
	return d.with(port, func(ch *channel) error {
		ch.txEnabled = true
		return nil
	})
}

// ReceiveProgress implements uart.PortDriver. Bytes received since the last
// call are deposited into the RX buffer first, the way the DMA engine would
// have written them.
func (d *Driver) ReceiveProgress(port uart.PortID) (n int, err error) {
	err = d.with(port, func(ch *channel) error {
		ch.deposit()
		n = ch.rxRemaining
		return nil
	})
	return
}

// Inject simulates bytes arriving on the wire of port.
func (d *Driver) Inject(port uart.PortID, data []byte) error {
	return d.with(port, func(ch *channel) error {
		ch.incoming = append(ch.incoming, data...)
		return nil
	})
}

// Step lets every enabled transmitter move up to n bytes. It returns the
// total number of bytes moved.
func (d *Driver) Step(n int) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	var moved int
	for port, ch := range d.channels {
		if !ch.txEnabled || ch.txRemaining == 0 || ch.fault != nil {
			continue
		}
		count := n
		if count > ch.txRemaining {
			count = ch.txRemaining
		}
		start := len(ch.txData) - ch.txRemaining
		data := ch.txData[start : start+count]
		ch.txRemaining -= count
		ch.sent = append(ch.sent, data...)
		moved += count
		to := port
		if wired, ok := d.wires[port]; ok {
			to = wired
		}
		if peer := d.channels[to]; peer != nil {
			peer.incoming = append(peer.incoming, data...)
		}
	}
	return moved
}

// Flush steps until no transmitter has bytes left.
func (d *Driver) Flush() {
	for d.Step(1<<16) > 0 {
	}
}

// Transmitted returns and clears everything port has put on the wire.
func (d *Driver) Transmitted(port uart.PortID) []byte {
	var out []byte
	d.with(port, func(ch *channel) error {
		out, ch.sent = ch.sent, nil
		return nil
	})
	return out
}

// Enabled reports whether the transmitter of port is enabled.
func (d *Driver) Enabled(port uart.PortID) (enabled bool) {
	d.with(port, func(ch *channel) error {
		enabled = ch.txEnabled
		return nil
	})
	return
}

// SetFault makes every operation on port fail with err until cleared
// with a nil err.
func (d *Driver) SetFault(port uart.PortID, err error) {
	d.lock.Lock()
	if ch := d.channels[port]; ch != nil {
		ch.fault = err
	}
	d.lock.Unlock()
}

// Run steps transmitters at roughly the configured line rate of 10 bits per
// byte until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	const interval = 10 * time.Millisecond
	return fx.Every("loopback", interval, fx.RoutineFunc(func() error {
		if moved := d.Step(d.bytesPerInterval(interval)); moved > 0 {
			glog.V(4).Infof("loopback: moved %d bytes", moved)
		}
		return nil
	})).Run(ctx)
}

func (d *Driver) bytesPerInterval(interval time.Duration) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	baud := uart.DefaultBaudRate
	for _, ch := range d.channels {
		if ch.cfg.BaudRate > 0 && ch.cfg.BaudRate < baud {
			baud = ch.cfg.BaudRate
		}
	}
	n := int(time.Duration(baud/10) * interval / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}

func (d *Driver) with(port uart.PortID, fn func(*channel) error) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	ch := d.channels[port]
	if ch == nil {
		return fmt.Errorf("%w: %s", ErrNotConfigured, port)
	}
	if ch.fault != nil {
		return ch.fault
	}
	return fn(ch)
}

func (ch *channel) deposit() {
	size := ch.rx.Cap()
	buf := ch.rx.Bytes()
	for _, b := range ch.incoming {
		buf[size-ch.rxRemaining] = b
		if ch.rxRemaining--; ch.rxRemaining == 0 {
			ch.rxRemaining = size
		}
	}
	ch.incoming = ch.incoming[:0]
}
