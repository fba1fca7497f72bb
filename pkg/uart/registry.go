package uart

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/uartlink/pkg/framework"
)

// Default tick periods.
const (
	DefaultReceivePeriod  = 100 * time.Millisecond
	DefaultTransmitPeriod = 50 * time.Millisecond
)

// Registry owns the Transports of all active ports sharing one driver.
type Registry struct {
	driver PortDriver

	ports map[PortID]*Transport
	lock  sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry(driver PortDriver) *Registry {
	return &Registry{
		driver: driver,
		ports:  make(map[PortID]*Transport),
	}
}

// Driver returns the driver ports are initialized with.
func (r *Registry) Driver() PortDriver {
	return r.driver
}

// Initialize (re)creates the Transport of port. Queued and buffered data of a
// previous Transport is discarded. On failure the port is left inactive.
func (r *Registry) Initialize(port PortID, cfg Config) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if old := r.ports[port]; old != nil {
		delete(r.ports, port)
		if err := old.release(); err != nil {
			glog.Warningf("%s: release before re-init: %v", port, err)
		}
	}
	t, err := NewTransport(port, cfg, r.driver)
	if err != nil {
		return err
	}
	r.ports[port] = t
	glog.Infof("%s: initialized baud=%d rx=%d tx=%d", port, cfg.BaudRate, cfg.RxBufferSize, cfg.TxBufferSize)
	return nil
}

// Transport returns the active Transport of port.
func (r *Registry) Transport(port PortID) (*Transport, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	t := r.ports[port]
	if t == nil {
		return nil, ErrNotInitialised
	}
	return t, nil
}

// Ports lists the active ports in ascending order.
func (r *Registry) Ports() []PortID {
	r.lock.RLock()
	ports := make([]PortID, 0, len(r.ports))
	for port := range r.ports {
		ports = append(ports, port)
	}
	r.lock.RUnlock()
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// Send queues text on port.
func (r *Registry) Send(port PortID, text string) error {
	t, err := r.Transport(port)
	if err != nil {
		return err
	}
	return t.Send(text)
}

// Receive dequeues the next message received on port.
func (r *Registry) Receive(port PortID) (string, error) {
	t, err := r.Transport(port)
	if err != nil {
		return "", err
	}
	return t.Receive()
}

// RunReceiveTick runs one receive tick on port.
func (r *Registry) RunReceiveTick(port PortID) error {
	t, err := r.Transport(port)
	if err != nil {
		return err
	}
	return t.ReceiveTick()
}

// RunTransmitTick runs one transmit tick on port.
func (r *Registry) RunTransmitTick(port PortID) error {
	t, err := r.Transport(port)
	if err != nil {
		return err
	}
	return t.TransmitTick()
}

// Stats returns the counters of port.
func (r *Registry) Stats(port PortID) (Stats, error) {
	t, err := r.Transport(port)
	if err != nil {
		return Stats{}, err
	}
	return t.Stats(), nil
}

// Close deactivates port and releases its driver resources.
func (r *Registry) Close(port PortID) error {
	r.lock.Lock()
	t := r.ports[port]
	delete(r.ports, port)
	r.lock.Unlock()
	if t == nil {
		return ErrNotInitialised
	}
	return t.release()
}

// CloseAll deactivates every port.
func (r *Registry) CloseAll() error {
	var errs fx.AggregatedError
	for _, port := range r.Ports() {
		errs.Add(r.Close(port))
	}
	return errs.Aggregate()
}

// Tasks returns the receive and transmit tick tasks of port. The tasks look
// the port up on every tick, so they keep working across re-initialization.
// Zero periods select the defaults.
func (r *Registry) Tasks(port PortID, rxPeriod, txPeriod time.Duration) []fx.Runnable {
	if rxPeriod <= 0 {
		rxPeriod = DefaultReceivePeriod
	}
	if txPeriod <= 0 {
		txPeriod = DefaultTransmitPeriod
	}
	return []fx.Runnable{
		fx.Every(port.String()+"/rx", rxPeriod, fx.RoutineFunc(func() error {
			return r.RunReceiveTick(port)
		})).WithQuiet(IsWarning),
		fx.Every(port.String()+"/tx", txPeriod, fx.RoutineFunc(func() error {
			return r.RunTransmitTick(port)
		})).WithQuiet(IsWarning),
	}
}
