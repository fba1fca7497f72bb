// Package port provides shell commands exchanging messages on open ports.
package port

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/uartlink/pkg/cli/sh"
	"github.com/robotalks/uartlink/pkg/uart"
)

// ReceiveAll dequeues every message waiting on t.
func ReceiveAll(t *uart.Transport) []string {
	msgs := []string{}
	for {
		msg, err := t.Receive()
		if err != nil {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

// OverfillNotice is shown when queuing a message evicted an older one.
const OverfillNotice = "outbox full, oldest message dropped"

// Send queues text on t. It returns a notice for informational statuses and
// an error for failures.
func Send(t *uart.Transport, text string) (string, error) {
	err := t.Send(text)
	switch {
	case err == uart.ErrMessageBoxOverfill:
		return OverfillNotice, nil
	case err != nil:
		return "", err
	}
	return "", nil
}

// Tick runs the ticks named by which: rx, tx, or both when empty. With the
// loopback driver, bytes moved by the transmit tick are delivered before the
// receive tick.
func Tick(s *sh.Shell, t *uart.Transport, which string) error {
	var rx, tx bool
	switch which {
	case "":
		rx, tx = true, true
	case "rx":
		rx = true
	case "tx":
		tx = true
	default:
		return fmt.Errorf("unknown tick %q", which)
	}
	if tx {
		if err := t.TransmitTick(); err != nil && !uart.IsWarning(err) {
			return err
		}
		if lb := s.Loopback(); lb != nil && rx {
			lb.Flush()
		}
	}
	if rx {
		if err := t.ReceiveTick(); err != nil && !uart.IsWarning(err) {
			return err
		}
	}
	return nil
}

var (
	// SendCmd queues a message.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "PORT TEXT...",
		Func: sh.MustBeOpen(func(c *ishell.Context, t *uart.Transport) {
			notice, err := Send(t, strings.Join(c.Args[1:], " "))
			if err != nil {
				c.Err(err)
				return
			}
			if notice != "" {
				c.Println(notice)
			}
		}),
	}

	// RecvCmd prints all received messages.
	RecvCmd = ishell.Cmd{
		Name:    "recv",
		Aliases: []string{"r"},
		Help:    "PORT",
		Func: sh.MustBeOpen(func(c *ishell.Context, t *uart.Transport) {
			s := sh.ShellFrom(c)
			msgs := ReceiveAll(t)
			if s.OutputJSON {
				s.Output(c, msgs)
				return
			}
			for _, msg := range msgs {
				c.Println(msg)
			}
		}),
	}

	// TickCmd runs ticks manually.
	TickCmd = ishell.Cmd{
		Name:    "tick",
		Aliases: []string{"t"},
		Help:    "PORT [rx|tx]",
		Func: sh.MustBeOpen(func(c *ishell.Context, t *uart.Transport) {
			var which string
			if len(c.Args) > 1 {
				which = c.Args[1]
			}
			if err := Tick(sh.ShellFrom(c), t, which); err != nil {
				c.Err(err)
			}
		}),
	}

	// StepCmd moves bytes on the loopback wire.
	StepCmd = ishell.Cmd{
		Name: "step",
		Help: "[BYTES]",
		Func: func(c *ishell.Context) {
			lb := sh.ShellFrom(c).Loopback()
			if lb == nil {
				c.Err(fmt.Errorf("loopback driver not in use"))
				return
			}
			if len(c.Args) == 0 {
				lb.Flush()
				return
			}
			n, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(fmt.Errorf("invalid BYTES: %v", err))
				return
			}
			c.Println(lb.Step(n))
		},
	}

	// StatsCmd prints port counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "PORT",
		Func: sh.MustBeOpen(func(c *ishell.Context, t *uart.Transport) {
			s := sh.ShellFrom(c)
			stats := t.Stats()
			if s.OutputJSON {
				s.Output(c, stats)
				return
			}
			c.Printf("rx: %d bytes, %d messages, %d dropped lines\n",
				stats.BytesReceived, stats.MessagesReceived, stats.DroppedLines)
			c.Printf("tx: %d bytes, %d messages, %d refills, %d skipped\n",
				stats.BytesStaged, stats.MessagesQueued, stats.Refills, stats.RefillsSkipped)
			c.Printf("evicted: %d\n", stats.Evicted)
		}),
	}
)

func init() {
	sh.AddCmds(
		&SendCmd,
		&RecvCmd,
		&TickCmd,
		&StepCmd,
		&StatsCmd,
	)
}
