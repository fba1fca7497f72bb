package uart

import (
	"fmt"
	"strconv"
	"strings"
)

// PortID identifies one hardware serial interface.
type PortID int

// Predefined ports.
const (
	Port1 PortID = iota + 1
	Port2
	Port3
	Port4
	Port5
)

// String implements fmt.Stringer.
func (p PortID) String() string {
	return "uart" + strconv.Itoa(int(p))
}

// ParsePortID parses "uart2", "2" and similar forms.
func ParsePortID(s string) (PortID, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(s), "uart"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return PortID(n), nil
}

// Parity defines the parity setting of a port.
type Parity int

const (
	// ParityNone disables parity.
	ParityNone Parity = iota
	// ParityOdd sets odd parity.
	ParityOdd
	// ParityEven sets even parity.
	ParityEven
)

var parityNames = []string{"none", "odd", "even"}

// String implements fmt.Stringer.
func (p Parity) String() string {
	if p >= 0 && int(p) < len(parityNames) {
		return parityNames[p]
	}
	return "parity(" + strconv.Itoa(int(p)) + ")"
}

// UnmarshalYAML accepts parity names or their numeric values.
func (p *Parity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	for n, name := range parityNames {
		if strings.EqualFold(s, name) || s == strconv.Itoa(n) {
			*p = Parity(n)
			return nil
		}
	}
	return fmt.Errorf("%w: parity %q", ErrInvalidConfig, s)
}

// StopBits defines the number of stop bits.
type StopBits int

const (
	// StopBitsOne is one stop bit.
	StopBitsOne StopBits = iota
	// StopBitsTwo is two stop bits.
	StopBitsTwo
)

// String implements fmt.Stringer.
func (s StopBits) String() string {
	switch s {
	case StopBitsOne:
		return "1"
	case StopBitsTwo:
		return "2"
	}
	return "stopbits(" + strconv.Itoa(int(s)) + ")"
}

// UnmarshalYAML accepts the number of stop bits, 1 or 2.
func (s *StopBits) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int
	if err := unmarshal(&n); err != nil {
		return err
	}
	switch n {
	case 1:
		*s = StopBitsOne
	case 2:
		*s = StopBitsTwo
	default:
		return fmt.Errorf("%w: %d stop bits", ErrInvalidConfig, n)
	}
	return nil
}

// WordSize is the number of data bits per frame.
type WordSize int

const (
	// WordSizeEight is 8 data bits.
	WordSizeEight WordSize = 8
	// WordSizeNine is 9 data bits.
	WordSizeNine WordSize = 9
)

// Defaults
const (
	DefaultBaudRate         = 115200
	DefaultRxBufferSize     = 32
	DefaultTxBufferSize     = 32
	DefaultMaxMessageLength = 20
	DefaultMaxMessages      = 25
	DefaultDelimiter        = "\n"
)

// Config is the per-port configuration. It is fixed once the port is
// initialized.
type Config struct {
	BaudRate         int      `yaml:"baud"`
	Parity           Parity   `yaml:"parity"`
	StopBits         StopBits `yaml:"stop-bits"`
	WordSize         WordSize `yaml:"word-size"`
	RxBufferSize     int      `yaml:"rx-buffer"`
	TxBufferSize     int      `yaml:"tx-buffer"`
	MaxMessageLength int      `yaml:"max-message-length"`
	MaxMessages      int      `yaml:"max-messages"`
	Delimiter        string   `yaml:"delimiter"`

	// Device is the OS device backing the port, used by OS bindings only.
	Device string `yaml:"device"`
}

// DefaultConfig returns the default port configuration.
func DefaultConfig() Config {
	return Config{
		BaudRate:         DefaultBaudRate,
		Parity:           ParityNone,
		StopBits:         StopBitsOne,
		WordSize:         WordSizeEight,
		RxBufferSize:     DefaultRxBufferSize,
		TxBufferSize:     DefaultTxBufferSize,
		MaxMessageLength: DefaultMaxMessageLength,
		MaxMessages:      DefaultMaxMessages,
		Delimiter:        DefaultDelimiter,
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	switch {
	case c.BaudRate <= 0:
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, c.BaudRate)
	case c.RxBufferSize <= 0 || c.TxBufferSize <= 0:
		return fmt.Errorf("%w: buffer sizes rx=%d tx=%d", ErrInvalidConfig, c.RxBufferSize, c.TxBufferSize)
	case c.MaxMessageLength <= 0:
		return fmt.Errorf("%w: max message length %d", ErrInvalidConfig, c.MaxMessageLength)
	case c.MaxMessages <= 0:
		return fmt.Errorf("%w: max messages %d", ErrInvalidConfig, c.MaxMessages)
	case c.Delimiter == "":
		return fmt.Errorf("%w: empty delimiter", ErrInvalidConfig)
	case c.WordSize != WordSizeEight && c.WordSize != WordSizeNine:
		return fmt.Errorf("%w: word size %d", ErrInvalidConfig, c.WordSize)
	}
	return nil
}
