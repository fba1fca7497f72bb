// Package osport binds uart.PortDriver to operating system serial devices.
//
// The receive side emulates a circular DMA transfer: a reader goroutine
// collects bytes from the device and they are written into the RX buffer,
// wrapping at its capacity, when the transport asks for receive progress.
// The transmit side copies an armed transfer and a writer goroutine puts it
// on the wire in small pieces while the transmitter is enabled, counting the
// remaining bytes down.
package osport

import (
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/robotalks/uartlink/pkg/uart"
)

// Port abstracts the opened device for testability.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a device.
type Opener func(*serial.Config) (Port, error)

// OpenSerial opens a device with tarm/serial.
func OpenSerial(c *serial.Config) (Port, error) {
	return serial.OpenPort(c)
}

var (
	// ErrUnsupported indicates a setting the device layer cannot provide.
	ErrUnsupported = errors.New("unsupported setting")
	// ErrNotOpen indicates the port has not been initialized.
	ErrNotOpen = errors.New("port not open")
)

const (
	// ReadTimeout bounds a single device read so the reader notices Release.
	ReadTimeout = 100 * time.Millisecond
	// WritePiece is the largest slice written to the device at once.
	WritePiece = 8
)

// Driver implements uart.PortDriver over OS serial devices.
type Driver struct {
	Open Opener

	ports map[uart.PortID]*device
	lock  sync.Mutex
}

type device struct {
	port uart.PortID
	dev  Port
	rx   *uart.RingBuffer
	tx   *uart.RingBuffer

	lock        sync.Mutex
	rxRemaining int
	incoming    []byte
	skipped     int
	txData      []byte
	txRemaining int
	txEnabled   bool

	kickCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Driver using tarm/serial.
func New() *Driver {
	return &Driver{Open: OpenSerial, ports: make(map[uart.PortID]*device)}
}

// SerialConfig translates a port configuration into tarm/serial settings.
func SerialConfig(cfg uart.Config) (*serial.Config, error) {
	c := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.BaudRate,
		ReadTimeout: ReadTimeout,
		Size:        byte(cfg.WordSize),
	}
	if cfg.Device == "" {
		return nil, errors.Wrap(uart.ErrInvalidConfig, "no device")
	}
	if cfg.WordSize != uart.WordSizeEight {
		return nil, errors.Wrapf(ErrUnsupported, "word size %d", cfg.WordSize)
	}
	switch cfg.Parity {
	case uart.ParityNone:
		c.Parity = serial.ParityNone
	case uart.ParityOdd:
		c.Parity = serial.ParityOdd
	case uart.ParityEven:
		c.Parity = serial.ParityEven
	default:
		return nil, errors.Wrapf(ErrUnsupported, "parity %d", cfg.Parity)
	}
	switch cfg.StopBits {
	case uart.StopBitsOne:
		c.StopBits = serial.Stop1
	case uart.StopBitsTwo:
		c.StopBits = serial.Stop2
	default:
		return nil, errors.Wrapf(ErrUnsupported, "stop bits %d", cfg.StopBits)
	}
	return c, nil
}

// Initialize implements uart.PortDriver.
func (d *Driver) Initialize(port uart.PortID, cfg uart.Config, rx, tx *uart.RingBuffer) error {
	sc, err := SerialConfig(cfg)
	if err != nil {
		return err
	}
	if err := d.Release(port); err != nil {
		glog.Warningf("%s: close previous device: %v", port, err)
	}
	dev, err := d.Open(sc)
	if err != nil {
		return errors.Wrapf(err, "open %s", cfg.Device)
	}
	p := &device{
		port:        port,
		dev:         dev,
		rx:          rx,
		tx:          tx,
		rxRemaining: rx.Cap(),
		kickCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()

	d.lock.Lock()
	d.ports[port] = p
	d.lock.Unlock()
	glog.V(2).Infof("%s: opened %s", port, cfg.Device)
	return nil
}

// Release implements uart.PortReleaser.
func (d *Driver) Release(port uart.PortID) error {
	d.lock.Lock()
	p := d.ports[port]
	delete(d.ports, port)
	d.lock.Unlock()
	if p == nil {
		return nil
	}
	close(p.doneCh)
	err := p.dev.Close()
	p.wg.Wait()
	return err
}

// StopTransmission implements uart.PortDriver.
func (d *Driver) StopTransmission(port uart.PortID) error {
	return d.with(port, func(p *device) error {
		p.txEnabled = false
		return nil
	})
}

// BytesRemaining implements uart.PortDriver.
func (d *Driver) BytesRemaining(port uart.PortID) (n int, err error) {
	err = d.with(port, func(p *device) error {
		n = p.txRemaining
		return nil
	})
	return
}

// ArmTransmission implements uart.PortDriver.
func (d *Driver) ArmTransmission(port uart.PortID, length int) error {
	return d.with(port, func(p *device) error {
		if length < 0 || length > p.tx.Cap() {
			return errors.Errorf("arm %d bytes exceeds tx buffer %d", length, p.tx.Cap())
		}
		p.txData = append(p.txData[:0], p.tx.Bytes()[:length]...)
		p.txRemaining = length
		return nil
	})
}

// ResumeTransmission implements uart.PortDriver. It only enables the
// transmitter, so an in-flight transfer continues where it stopped.
func (d *Driver) ResumeTransmission(port uart.PortID) error {
	return d.with(port, func(p *device) error {
		p.txEnabled = true
		select {
		case p.kickCh <- struct{}{}:
		default:
		}
		return nil
	})
}

// ReceiveProgress implements uart.PortDriver.
func (d *Driver) ReceiveProgress(port uart.PortID) (n int, err error) {
	err = d.with(port, func(p *device) error {
		p.deposit()
		n = p.rxRemaining
		return nil
	})
	return
}

func (d *Driver) with(port uart.PortID, fn func(*device) error) error {
	d.lock.Lock()
	p := d.ports[port]
	d.lock.Unlock()
	if p == nil {
		return errors.Wrapf(ErrNotOpen, "%s", port)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	return fn(p)
}

func (p *device) closed() bool {
	select {
	case <-p.doneCh:
		return true
	default:
		return false
	}
}

func (p *device) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, p.rx.Cap())
	for !p.closed() {
		n, err := p.dev.Read(buf)
		if n > 0 {
			p.lock.Lock()
			p.incoming = append(p.incoming, buf[:n]...)
			// Older bytes would have been overwritten by the circular
			// transfer; only their effect on the cursor is kept.
			if extra := len(p.incoming) - p.rx.Cap(); extra > 0 {
				p.skipped += extra
				p.incoming = append(p.incoming[:0], p.incoming[extra:]...)
			}
			p.lock.Unlock()
		}
		if err != nil && err != io.EOF && !p.closed() {
			glog.Warningf("%s: read: %v", p.port, err)
			time.Sleep(ReadTimeout)
		}
	}
}

func (p *device) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.doneCh:
			return
		case <-p.kickCh:
		}
		for {
			p.lock.Lock()
			if !p.txEnabled || p.txRemaining == 0 {
				p.lock.Unlock()
				break
			}
			start := len(p.txData) - p.txRemaining
			end := start + WritePiece
			if end > len(p.txData) {
				end = len(p.txData)
			}
			piece := append([]byte(nil), p.txData[start:end]...)
			p.lock.Unlock()

			n, err := p.dev.Write(piece)
			p.lock.Lock()
			p.txRemaining -= n
			p.lock.Unlock()
			if err != nil {
				if !p.closed() {
					glog.Errorf("%s: write: %v", p.port, err)
				}
				break
			}
		}
	}
}

func (p *device) deposit() {
	size := p.rx.Cap()
	p.rxRemaining -= p.skipped % size
	if p.rxRemaining <= 0 {
		p.rxRemaining += size
	}
	p.skipped = 0
	buf := p.rx.Bytes()
	for _, b := range p.incoming {
		buf[size-p.rxRemaining] = b
		if p.rxRemaining--; p.rxRemaining == 0 {
			p.rxRemaining = size
		}
	}
	p.incoming = p.incoming[:0]
}
