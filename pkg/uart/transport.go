package uart

import (
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Stats holds per-transport counters since initialization.
type Stats struct {
	BytesReceived    uint64
	BytesStaged      uint64
	MessagesReceived uint64
	MessagesQueued   uint64
	Evicted          int
	DroppedLines     int
	Refills          uint64
	RefillsSkipped   uint64
}

// Transport moves framed text between the application and one port.
// All methods are safe for concurrent use; the receive tick, transmit tick
// and application calls may run from separate goroutines. Driver calls are
// made with the transport lock held, so a driver only touches the ring
// buffers from inside those calls.
type Transport struct {
	port   PortID
	config Config
	driver PortDriver

	rx     *RingBuffer
	tx     *RingBuffer
	inbox  *MessageQueue
	outbox *MessageQueue

	// halted is set while the transmitter is stopped by a tick which
	// hasn't resumed it yet.
	halted bool

	stats Stats
	lock  sync.Mutex
}

// NewTransport validates cfg, allocates buffers and queues, and initializes
// the driver for port.
func NewTransport(port PortID, cfg Config, driver PortDriver) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		port:   port,
		config: cfg,
		driver: driver,
		rx:     NewRingBuffer(cfg.RxBufferSize),
		tx:     NewRingBuffer(cfg.TxBufferSize),
		inbox:  NewMessageQueue(cfg),
		outbox: NewMessageQueue(cfg),
	}
	if err := driver.Initialize(port, cfg, t.rx, t.tx); err != nil {
		return nil, t.driverErr("initialize", err)
	}
	return t, nil
}

// Port returns the port served.
func (t *Transport) Port() PortID {
	return t.port
}

// Config returns the port configuration.
func (t *Transport) Config() Config {
	return t.config
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() Stats {
	t.lock.Lock()
	defer t.lock.Unlock()
	s := t.stats
	s.Evicted = t.inbox.evicted + t.outbox.evicted
	s.DroppedLines = t.inbox.dropped
	return s
}

// Send queues text for transmission with the delimiter appended.
func (t *Transport) Send(text string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	err := t.outbox.Put(text + t.config.Delimiter)
	t.stats.MessagesQueued++
	if err != nil {
		glog.Warningf("%s: outbox full, oldest message dropped", t.port)
	}
	return err
}

// Receive dequeues the oldest received message.
func (t *Transport) Receive() (string, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.inbox.TakeNext()
}

// ReceiveTick resynchronizes the RX cursor from the driver and decants
// newly arrived bytes into the inbox.
func (t *Transport) ReceiveTick() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	remaining, err := t.driver.ReceiveProgress(t.port)
	if err != nil {
		return t.driverErr("receive progress", err)
	}
	t.rx.SetHead(t.rx.Cap() - remaining)
	data := t.rx.DrainAll()
	if len(data) == 0 {
		return nil
	}
	before := t.inbox.Len() + t.inbox.evicted
	err = t.inbox.FeedRaw(data)
	t.stats.BytesReceived += uint64(len(data))
	t.stats.MessagesReceived += uint64(t.inbox.Len() + t.inbox.evicted - before)
	if glog.V(4) {
		glog.Infof("%s: RX %q", t.port, data)
	}
	if err != nil {
		glog.Warningf("%s: inbox full, oldest message dropped", t.port)
	}
	return err
}

// TransmitTick refills the TX buffer from the outbox once the previous
// transfer has drained, then resumes transmission. A transmitter left
// stopped by a failed tick is resumed even when the outbox is empty.
func (t *Transport) TransmitTick() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.outbox.Empty() {
		if !t.halted {
			return ErrNoPendingMessages
		}
		return t.resume()
	}
	if err := t.driver.StopTransmission(t.port); err != nil {
		return t.driverErr("stop", err)
	}
	t.halted = true
	remaining, err := t.driver.BytesRemaining(t.port)
	if err != nil {
		return t.driverErr("bytes remaining", err)
	}
	if remaining == 0 {
		if err := t.refill(); err != nil {
			return err
		}
	} else {
		t.stats.RefillsSkipped++
	}
	return t.resume()
}

func (t *Transport) resume() error {
	if err := t.driver.ResumeTransmission(t.port); err != nil {
		return t.driverErr("resume", err)
	}
	t.halted = false
	return nil
}

// refill stages the next chunk of the outbox. The chunk goes back to the
// front of the outbox when it can't be armed.
func (t *Transport) refill() error {
	t.tx.Reset()
	chunk, ok := t.outbox.TakeChunk(t.tx.Cap())
	if !ok {
		return nil
	}
	if err := t.tx.PushChunk([]byte(chunk)); err != nil {
		t.outbox.requeueFront(chunk)
		return err
	}
	if err := t.driver.ArmTransmission(t.port, t.tx.Len()); err != nil {
		t.tx.Reset()
		t.outbox.requeueFront(chunk)
		return t.driverErr("arm", err)
	}
	t.stats.Refills++
	t.stats.BytesStaged += uint64(t.tx.Len())
	if glog.V(4) {
		glog.Infof("%s: TX %q", t.port, chunk)
	}
	return nil
}

func (t *Transport) release() error {
	if r, ok := t.driver.(PortReleaser); ok {
		if err := r.Release(t.port); err != nil {
			return t.driverErr("release", err)
		}
	}
	return nil
}

func (t *Transport) driverErr(op string, err error) error {
	return &DriverError{Port: t.port, Op: op, Err: errors.WithStack(err)}
}
