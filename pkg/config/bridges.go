package config

import (
	"github.com/pkg/errors"

	"github.com/robotalks/uartlink/pkg/bridge"
	"github.com/robotalks/uartlink/pkg/bridge/mqtt"
	"github.com/robotalks/uartlink/pkg/bridge/websocket"
	fx "github.com/robotalks/uartlink/pkg/framework"
	"github.com/robotalks/uartlink/pkg/uart"
)

// NewBridges creates the configured bridges for reg together with the pump
// feeding them. It returns nothing when no bridge is configured.
func (c *Config) NewBridges(reg *uart.Registry) ([]fx.Runnable, error) {
	if c.MQTTURL == "" && c.WebSocketAddr == "" {
		return nil, nil
	}
	codec, err := bridge.NewCodec(c.Codec)
	if err != nil {
		return nil, err
	}
	pump := bridge.NewPump(reg, c.ReceivePeriod)
	runners := []fx.Runnable{pump}
	if c.MQTTURL != "" {
		b, err := mqtt.NewBridge(c.MQTTURL, c.DeviceID, codec, pump)
		if err != nil {
			return nil, errors.Wrap(err, "create MQTT bridge")
		}
		pump.AddSink(b)
		runners = append(runners, b)
	}
	if c.WebSocketAddr != "" {
		hub := websocket.NewHub(codec, pump)
		pump.AddSink(hub)
		runners = append(runners, &websocket.Server{Addr: c.WebSocketAddr, Hub: hub})
	}
	return runners, nil
}
