// Package config assembles uartlink programs from flags, environment and a
// YAML port table.
package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/robotalks/uartlink/pkg/uart"
	"github.com/robotalks/uartlink/pkg/uart/driver/loopback"
	"github.com/robotalks/uartlink/pkg/uart/driver/osport"
)

// Driver names.
const (
	DriverOS       = "os"
	DriverLoopback = "loopback"
)

// Config provides common options to set up ports and bridges.
type Config struct {
	// DeviceID identifies this host on bridges, defaults to the machine ID.
	DeviceID string
	// PortsFile is the YAML port table.
	PortsFile string
	// Driver selects the port driver: os or loopback.
	Driver string
	// ReceivePeriod and TransmitPeriod are the tick periods.
	ReceivePeriod  time.Duration
	TransmitPeriod time.Duration

	// MQTTURL enables the MQTT bridge.
	// e.g. mqtt://host:port/topic-prefix
	MQTTURL string
	// WebSocketAddr enables the WebSocket bridge, e.g. :8080.
	WebSocketAddr string
	// Codec selects the bridge payload encoding: text or proto.
	Codec string
}

var defaultConfig = Config{
	Driver:         DriverOS,
	ReceivePeriod:  uart.DefaultReceivePeriod,
	TransmitPeriod: uart.DefaultTransmitPeriod,
	Codec:          "text",
}

func init() {
	if val := os.Getenv("UARTLINK_PORTS"); val != "" {
		defaultConfig.PortsFile = val
	}
	if val := os.Getenv("UARTLINK_DRIVER"); val != "" {
		defaultConfig.Driver = val
	}
	if val := os.Getenv("UARTLINK_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
	}
	if val := os.Getenv("UARTLINK_WS_ADDR"); val != "" {
		defaultConfig.WebSocketAddr = val
	}
	if val := os.Getenv("UARTLINK_DEVICE_ID"); val != "" {
		defaultConfig.DeviceID = val
	} else {
		defaultConfig.DeviceID = MachineID()
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.DeviceID, "id", defaultConfig.DeviceID, "Device ID used on bridges")
	flag.StringVar(&defaultConfig.PortsFile, "ports", defaultConfig.PortsFile, "YAML port table")
	flag.StringVar(&defaultConfig.Driver, "driver", defaultConfig.Driver, "Port driver: os or loopback")
	flag.DurationVar(&defaultConfig.ReceivePeriod, "rx-period", defaultConfig.ReceivePeriod, "Receive tick period")
	flag.DurationVar(&defaultConfig.TransmitPeriod, "tx-period", defaultConfig.TransmitPeriod, "Transmit tick period")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.WebSocketAddr, "ws", defaultConfig.WebSocketAddr, "WebSocket listen address")
	flag.StringVar(&defaultConfig.Codec, "codec", defaultConfig.Codec, "Bridge payload codec: text or proto")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// PortEntry is one port in the port table. Omitted settings take the
// defaults of uart.DefaultConfig.
type PortEntry struct {
	Port        string `yaml:"port"`
	uart.Config `yaml:",inline"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *PortEntry) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain PortEntry
	p := plain{Config: uart.DefaultConfig()}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*e = PortEntry(p)
	return nil
}

// PortTable is the content of a port table file.
type PortTable struct {
	Ports []PortEntry `yaml:"ports"`
}

// ParsePortTable decodes a YAML port table.
func ParsePortTable(data []byte) (map[uart.PortID]uart.Config, error) {
	var table PortTable
	if err := yaml.UnmarshalStrict(data, &table); err != nil {
		return nil, errors.Wrap(err, "parse port table")
	}
	ports := make(map[uart.PortID]uart.Config)
	for _, entry := range table.Ports {
		port, err := uart.ParsePortID(entry.Port)
		if err != nil {
			return nil, err
		}
		if _, exist := ports[port]; exist {
			return nil, fmt.Errorf("duplicated port %s", port)
		}
		if err := entry.Config.Validate(); err != nil {
			return nil, errors.Wrapf(err, "port %s", port)
		}
		ports[port] = entry.Config
	}
	return ports, nil
}

// LoadPorts reads the port table file.
func (c *Config) LoadPorts() (map[uart.PortID]uart.Config, error) {
	if c.PortsFile == "" {
		return nil, fmt.Errorf("port table is required")
	}
	data, err := ioutil.ReadFile(c.PortsFile)
	if err != nil {
		return nil, err
	}
	return ParsePortTable(data)
}

// NewDriver creates the configured port driver.
func (c *Config) NewDriver() (uart.PortDriver, error) {
	switch c.Driver {
	case DriverOS:
		return osport.New(), nil
	case DriverLoopback:
		return loopback.New(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", c.Driver)
	}
}

// NewRegistry creates the driver and a Registry with every port in ports
// initialized.
func (c *Config) NewRegistry(ports map[uart.PortID]uart.Config) (*uart.Registry, error) {
	drv, err := c.NewDriver()
	if err != nil {
		return nil, err
	}
	reg := uart.NewRegistry(drv)
	ids := make([]uart.PortID, 0, len(ports))
	for port := range ports {
		ids = append(ids, port)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, port := range ids {
		if err := reg.Initialize(port, ports[port]); err != nil {
			reg.CloseAll()
			return nil, err
		}
	}
	glog.V(2).Infof("%d ports initialized with %s driver", len(ids), c.Driver)
	return reg, nil
}

// MustNewRegistry loads the port table and creates the Registry, and fails
// on error.
func (c *Config) MustNewRegistry() *uart.Registry {
	ports, err := c.LoadPorts()
	if err != nil {
		log.Fatalln(err)
	}
	reg, err := c.NewRegistry(ports)
	if err != nil {
		log.Fatalln(err)
	}
	return reg
}
