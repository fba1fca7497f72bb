package uart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/uartlink/pkg/framework"
	"github.com/robotalks/uartlink/pkg/uart"
	"github.com/robotalks/uartlink/pkg/uart/driver/loopback"
)

func newTestRegistry(t *testing.T, cfg uart.Config, ports ...uart.PortID) (*uart.Registry, *loopback.Driver) {
	drv := loopback.New()
	reg := uart.NewRegistry(drv)
	if len(ports) == 0 {
		ports = []uart.PortID{uart.Port1}
	}
	for _, port := range ports {
		require.NoError(t, reg.Initialize(port, cfg))
	}
	return reg, drv
}

// flakyDriver fails the named operations once each.
type flakyDriver struct {
	*loopback.Driver
	failOnce map[string]bool
}

func (d *flakyDriver) fail(op string) error {
	if d.failOnce[op] {
		delete(d.failOnce, op)
		return errors.New(op + " failed")
	}
	return nil
}

func (d *flakyDriver) ArmTransmission(port uart.PortID, length int) error {
	if err := d.fail("arm"); err != nil {
		return err
	}
	return d.Driver.ArmTransmission(port, length)
}

func (d *flakyDriver) ResumeTransmission(port uart.PortID) error {
	if err := d.fail("resume"); err != nil {
		return err
	}
	return d.Driver.ResumeTransmission(port)
}

func newFlakyRegistry(t *testing.T, ops ...string) (*uart.Registry, *flakyDriver) {
	drv := &flakyDriver{Driver: loopback.New(), failOnce: make(map[string]bool)}
	for _, op := range ops {
		drv.failOnce[op] = true
	}
	reg := uart.NewRegistry(drv)
	require.NoError(t, reg.Initialize(uart.Port1, uart.DefaultConfig()))
	return reg, drv
}

func TestTransportRoundTrip(t *testing.T) {
	reg, drv := newTestRegistry(t, uart.DefaultConfig())
	require.NoError(t, reg.Send(uart.Port1, "hello"))
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	drv.Flush()
	require.Equal(t, "hello\n", string(drv.Transmitted(uart.Port1)))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	msg, err := reg.Receive(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, "hello", msg)
	_, err = reg.Receive(uart.Port1)
	require.Equal(t, uart.ErrNoPendingMessages, err)

	stats, err := reg.Stats(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, uint64(6), stats.BytesReceived)
	require.Equal(t, uint64(6), stats.BytesStaged)
	require.Equal(t, uint64(1), stats.MessagesReceived)
	require.Equal(t, uint64(1), stats.MessagesQueued)
	require.Equal(t, uint64(1), stats.Refills)
}

func TestTransportWiredPorts(t *testing.T) {
	reg, drv := newTestRegistry(t, uart.DefaultConfig(), uart.Port1, uart.Port2)
	drv.Wire(uart.Port1, uart.Port2).Wire(uart.Port2, uart.Port1)
	require.NoError(t, reg.Send(uart.Port1, "ping"))
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	drv.Flush()
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	require.NoError(t, reg.RunReceiveTick(uart.Port2))
	_, err := reg.Receive(uart.Port1)
	require.Equal(t, uart.ErrNoPendingMessages, err)
	msg, err := reg.Receive(uart.Port2)
	require.NoError(t, err)
	require.Equal(t, "ping", msg)
	require.Equal(t, []uart.PortID{uart.Port1, uart.Port2}, reg.Ports())
}

func TestTransportNotInitialised(t *testing.T) {
	reg, _ := newTestRegistry(t, uart.DefaultConfig())
	require.Equal(t, uart.ErrNotInitialised, reg.Send(uart.Port2, "x"))
	_, err := reg.Receive(uart.Port2)
	require.Equal(t, uart.ErrNotInitialised, err)
	require.Equal(t, uart.ErrNotInitialised, reg.RunReceiveTick(uart.Port2))
	require.Equal(t, uart.ErrNotInitialised, reg.RunTransmitTick(uart.Port2))
	_, err = reg.Stats(uart.Port2)
	require.Equal(t, uart.ErrNotInitialised, err)
	require.Equal(t, uart.ErrNotInitialised, reg.Close(uart.Port2))
}

func TestTransportReceive(t *testing.T) {
	reg, drv := newTestRegistry(t, uart.DefaultConfig())
	require.NoError(t, drv.Inject(uart.Port1, []byte("start ch0 none\nstop ch1\n")))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	for _, expect := range []string{"start ch0 none", "stop ch1"} {
		msg, err := reg.Receive(uart.Port1)
		require.NoError(t, err)
		require.Equal(t, expect, msg)
	}
	// Nothing new arrived.
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	_, err := reg.Receive(uart.Port1)
	require.Equal(t, uart.ErrNoPendingMessages, err)
}

func TestTransportReceiveWrap(t *testing.T) {
	cfg := uart.DefaultConfig()
	cfg.RxBufferSize = 8
	reg, drv := newTestRegistry(t, cfg)
	require.NoError(t, drv.Inject(uart.Port1, []byte("abc\n")))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	require.NoError(t, drv.Inject(uart.Port1, []byte("defg")))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	require.NoError(t, drv.Inject(uart.Port1, []byte("h\n")))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	for _, expect := range []string{"abc", "defgh"} {
		msg, err := reg.Receive(uart.Port1)
		require.NoError(t, err)
		require.Equal(t, expect, msg)
	}

	// A full lap of the receiver between ticks reads as no progress.
	require.NoError(t, drv.Inject(uart.Port1, []byte("lost123\n")))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	_, err := reg.Receive(uart.Port1)
	require.Equal(t, uart.ErrNoPendingMessages, err)
	stats, err := reg.Stats(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, uint64(10), stats.BytesReceived)

	require.NoError(t, drv.Inject(uart.Port1, []byte("z\n")))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	msg, err := reg.Receive(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, "z", msg)
}

func TestTransportInboxOverfill(t *testing.T) {
	cfg := uart.DefaultConfig()
	cfg.MaxMessages = 2
	reg, drv := newTestRegistry(t, cfg)
	require.NoError(t, drv.Inject(uart.Port1, []byte("a\nb\nc\n")))
	err := reg.RunReceiveTick(uart.Port1)
	require.Equal(t, uart.ErrMessageBoxOverfill, err)
	require.True(t, uart.IsWarning(err))
	for _, expect := range []string{"b", "c"} {
		msg, err := reg.Receive(uart.Port1)
		require.NoError(t, err)
		require.Equal(t, expect, msg)
	}
	stats, err := reg.Stats(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Evicted)
	require.Equal(t, uint64(3), stats.MessagesReceived)
}

func TestTransportOutboxOverfill(t *testing.T) {
	cfg := uart.DefaultConfig()
	cfg.MaxMessages = 1
	reg, drv := newTestRegistry(t, cfg)
	require.NoError(t, reg.Send(uart.Port1, "old"))
	require.Equal(t, uart.ErrMessageBoxOverfill, reg.Send(uart.Port1, "new"))
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	drv.Flush()
	require.Equal(t, "new\n", string(drv.Transmitted(uart.Port1)))
}

func TestTransportTransmitChunks(t *testing.T) {
	cfg := uart.DefaultConfig()
	cfg.TxBufferSize = 4
	reg, drv := newTestRegistry(t, cfg)

	err := reg.RunTransmitTick(uart.Port1)
	require.Equal(t, uart.ErrNoPendingMessages, err)
	require.True(t, uart.IsWarning(err))

	require.NoError(t, reg.Send(uart.Port1, "abcdefgh"))
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	require.Equal(t, 2, drv.Step(2))

	// The transfer is still in flight: no refill, but transmission resumes.
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	require.True(t, drv.Enabled(uart.Port1))
	stats, err := reg.Stats(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Refills)
	require.Equal(t, uint64(1), stats.RefillsSkipped)

	drv.Flush()
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	drv.Flush()
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	drv.Flush()
	require.Equal(t, uart.ErrNoPendingMessages, reg.RunTransmitTick(uart.Port1))
	require.Equal(t, "abcdefgh\n", string(drv.Transmitted(uart.Port1)))

	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	msg, err := reg.Receive(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, "abcdefgh", msg)
}

func TestTransportCustomDelimiter(t *testing.T) {
	cfg := uart.DefaultConfig()
	cfg.Delimiter = "\r\n"
	reg, drv := newTestRegistry(t, cfg)
	require.NoError(t, reg.Send(uart.Port1, "AT"))
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	drv.Flush()
	require.Equal(t, "AT\r\n", string(drv.Transmitted(uart.Port1)))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	msg, err := reg.Receive(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, "AT", msg)
}

func TestTransportDriverFault(t *testing.T) {
	reg, drv := newTestRegistry(t, uart.DefaultConfig())
	fault := errors.New("dma fault")
	drv.SetFault(uart.Port1, fault)

	require.NoError(t, reg.Send(uart.Port1, "x"))
	err := reg.RunTransmitTick(uart.Port1)
	var de *uart.DriverError
	require.True(t, errors.As(err, &de))
	require.Equal(t, uart.Port1, de.Port)
	require.Equal(t, "stop", de.Op)
	require.True(t, errors.Is(err, fault))
	require.False(t, uart.IsWarning(err))

	err = reg.RunReceiveTick(uart.Port1)
	require.True(t, errors.As(err, &de))
	require.Equal(t, "receive progress", de.Op)

	drv.SetFault(uart.Port1, nil)
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
}

func TestTransportArmFailureKeepsMessages(t *testing.T) {
	reg, drv := newFlakyRegistry(t, "arm")
	require.NoError(t, reg.Send(uart.Port1, "first"))
	require.NoError(t, reg.Send(uart.Port1, "second"))

	err := reg.RunTransmitTick(uart.Port1)
	var de *uart.DriverError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "arm", de.Op)
	drv.Flush()
	require.Empty(t, drv.Transmitted(uart.Port1))

	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	drv.Flush()
	require.Equal(t, uart.ErrNoPendingMessages, reg.RunTransmitTick(uart.Port1))
	require.Equal(t, "first\nsecond\n", string(drv.Transmitted(uart.Port1)))

	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	for _, expect := range []string{"first", "second"} {
		msg, err := reg.Receive(uart.Port1)
		require.NoError(t, err)
		require.Equal(t, expect, msg)
	}
	stats, err := reg.Stats(uart.Port1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Refills)
}

func TestTransportResumeFailureRetried(t *testing.T) {
	reg, drv := newFlakyRegistry(t, "resume")
	require.NoError(t, reg.Send(uart.Port1, "hello"))

	err := reg.RunTransmitTick(uart.Port1)
	var de *uart.DriverError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "resume", de.Op)
	require.False(t, drv.Enabled(uart.Port1))
	drv.Flush()
	require.Empty(t, drv.Transmitted(uart.Port1))

	// The outbox is empty but the armed transfer is still stopped.
	require.NoError(t, reg.RunTransmitTick(uart.Port1))
	require.True(t, drv.Enabled(uart.Port1))
	drv.Flush()
	require.Equal(t, "hello\n", string(drv.Transmitted(uart.Port1)))
	require.Equal(t, uart.ErrNoPendingMessages, reg.RunTransmitTick(uart.Port1))
}

func TestRegistryInitialize(t *testing.T) {
	drv := loopback.New(uart.Port1)
	reg := uart.NewRegistry(drv)

	cfg := uart.DefaultConfig()
	cfg.MaxMessages = 0
	err := reg.Initialize(uart.Port1, cfg)
	require.True(t, errors.Is(err, uart.ErrInvalidConfig))

	err = reg.Initialize(uart.Port3, uart.DefaultConfig())
	var de *uart.DriverError
	require.True(t, errors.As(err, &de))
	require.True(t, errors.Is(err, loopback.ErrUnknownPort))
	require.Equal(t, uart.ErrNotInitialised, reg.Send(uart.Port3, "x"))

	require.NoError(t, reg.Initialize(uart.Port1, uart.DefaultConfig()))
	require.NoError(t, reg.Send(uart.Port1, "stale"))
	require.NoError(t, drv.Inject(uart.Port1, []byte("stale in\n")))

	// Re-initialization discards queued and buffered data.
	require.NoError(t, reg.Initialize(uart.Port1, uart.DefaultConfig()))
	require.Equal(t, uart.ErrNoPendingMessages, reg.RunTransmitTick(uart.Port1))
	require.NoError(t, reg.RunReceiveTick(uart.Port1))
	_, err = reg.Receive(uart.Port1)
	require.Equal(t, uart.ErrNoPendingMessages, err)

	// A failed re-initialization leaves the port inactive.
	require.Error(t, reg.Initialize(uart.Port1, cfg))
	require.Equal(t, uart.ErrNotInitialised, reg.Send(uart.Port1, "x"))
}

func TestRegistryClose(t *testing.T) {
	reg, _ := newTestRegistry(t, uart.DefaultConfig(), uart.Port1, uart.Port2, uart.Port4)
	require.NoError(t, reg.Close(uart.Port2))
	require.Equal(t, uart.ErrNotInitialised, reg.Send(uart.Port2, "x"))
	require.Equal(t, []uart.PortID{uart.Port1, uart.Port4}, reg.Ports())
	require.NoError(t, reg.CloseAll())
	require.Empty(t, reg.Ports())
}

func TestRegistryTasks(t *testing.T) {
	reg, drv := newTestRegistry(t, uart.DefaultConfig())
	runner := fx.NewRunner()
	runner.Go(reg.Tasks(uart.Port1, 5*time.Millisecond, 5*time.Millisecond)...)
	runner.Go(fx.RunFunc(drv.Run))

	require.NoError(t, reg.Send(uart.Port1, "tick"))
	var msg string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		if msg, err = reg.Receive(uart.Port1); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, "tick", msg)

	runner.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("runner did not stop")
	}
}
