// Package mqtt bridges ports to an MQTT broker.
//
// Messages received on a port are published to <prefix><device>/<port>/rx.
// Payloads published to <prefix><device>/<port>/tx are sent to the port.
package mqtt

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/uartlink/pkg/bridge"
	"github.com/robotalks/uartlink/pkg/uart"
)

// PublishTimeout bounds waiting for a publish to be handed to the broker.
const PublishTimeout = time.Second

// Bridge implements bridge.Sink over a Queue and injects messages from the
// broker into ports.
type Bridge struct {
	Queue    *Queue
	DeviceID string
	Codec    bridge.Codec
	Injector bridge.Injector
}

// NewBridge creates a Bridge connecting to brokerURL.
func NewBridge(brokerURL, deviceID string, codec bridge.Codec, injector bridge.Injector) (*Bridge, error) {
	opts, prefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid MQTT URL")
	}
	if opts.ClientID == "" {
		opts.SetClientID("uartlink-" + deviceID)
	}
	return &Bridge{
		Queue:    NewQueue(opts, prefix),
		DeviceID: deviceID,
		Codec:    codec,
		Injector: injector,
	}, nil
}

// Topic returns the topic of port in dir, without the queue prefix.
func (b *Bridge) Topic(port uart.PortID, dir bridge.Direction) string {
	return b.DeviceID + "/" + port.String() + "/" + dir.String()
}

// Publish implements bridge.Sink.
func (b *Bridge) Publish(msg bridge.Message) error {
	payload, err := b.Codec.Encode(msg)
	if err != nil {
		return err
	}
	token := b.Queue.Pub(b.Topic(msg.Port, bridge.Inbound), payload)
	if !token.WaitTimeout(PublishTimeout) {
		return errors.Errorf("publish %s timeout", msg.Port)
	}
	return token.Error()
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "mqtt-bridge"
}

// Run implements framework.Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.Queue.Sub(b.DeviceID+"/+/"+bridge.Outbound.String(), b.HandleTx)
	token := b.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		sub.Close()
		return errors.Wrap(err, "MQTT connect")
	}
	<-ctx.Done()
	b.Queue.Close()
	return ctx.Err()
}

// HandleTx decodes a payload published to a tx topic and injects it.
func (b *Bridge) HandleTx(topic string, payload []byte) {
	tokens := strings.Split(topic, "/")
	if len(tokens) != 3 || tokens[0] != b.DeviceID || tokens[2] != bridge.Outbound.String() {
		return
	}
	port, err := uart.ParsePortID(tokens[1])
	if err != nil {
		glog.Warningf("MQTT %s: %v", topic, err)
		return
	}
	msg, err := b.Codec.Decode(payload)
	if err != nil {
		glog.Warningf("MQTT %s: decode: %v", topic, err)
		return
	}
	if err := b.Injector.Inject(port, msg.Text); err != nil {
		glog.Errorf("MQTT %s: %v", topic, err)
	}
}
