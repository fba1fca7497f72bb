package uart

// PortDriver is the hardware-facing side of a Transport.
//
// All operations are synchronous, must return promptly and never retry
// internally. ResumeTransmission must be idempotent: resuming while a
// transfer is in flight neither restarts nor corrupts it.
type PortDriver interface {
	// Initialize configures the port. rx is filled circularly by the
	// receive engine; tx is transmitted from offset 0 when armed.
	Initialize(port PortID, cfg Config, rx, tx *RingBuffer) error
	// StopTransmission halts the transmitter.
	StopTransmission(port PortID) error
	// BytesRemaining reports how many bytes of the last armed transfer
	// have not been sent yet.
	BytesRemaining(port PortID) (int, error)
	// ArmTransmission programs a new transfer of length bytes from tx.
	ArmTransmission(port PortID, length int) error
	// ResumeTransmission (re)enables the transmitter.
	ResumeTransmission(port PortID) error
	// ReceiveProgress reports the remaining count of the circular receive
	// transfer; the write cursor is rx.Cap() minus this value.
	ReceiveProgress(port PortID) (int, error)
}

// PortReleaser is implemented by drivers holding resources per port.
// Release is called before a port is re-initialized or closed.
type PortReleaser interface {
	Release(port PortID) error
}
