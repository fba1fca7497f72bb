package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/uartlink/pkg/config"
	"github.com/robotalks/uartlink/pkg/uart"
	"github.com/robotalks/uartlink/pkg/uart/driver/loopback"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell    *ishell.Shell
	Config   *config.Config
	Registry *uart.Registry

	ports map[uart.PortID]uart.Config
}

const (
	shellKey = "$shell"
	prompt   = "uartlink > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&OpenCmd,
		&CloseCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *config.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(prompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Init creates the driver and Registry, and loads the port table if one is
// configured.
func (s *Shell) Init() error {
	if s.Registry != nil {
		return nil
	}
	if s.Config.PortsFile != "" {
		ports, err := s.Config.LoadPorts()
		if err != nil {
			return err
		}
		s.ports = ports
	}
	drv, err := s.Config.NewDriver()
	if err != nil {
		return err
	}
	s.Registry = uart.NewRegistry(drv)
	return nil
}

// Loopback returns the loopback driver when it's in use.
func (s *Shell) Loopback() *loopback.Driver {
	if s.Registry == nil {
		return nil
	}
	drv, _ := s.Registry.Driver().(*loopback.Driver)
	return drv
}

// PortConfig returns the configuration of port from the port table, or the
// defaults.
func (s *Shell) PortConfig(port uart.PortID) uart.Config {
	if cfg, ok := s.ports[port]; ok {
		return cfg
	}
	return uart.DefaultConfig()
}

// Open initializes port. Optional device and baud rate override the port
// configuration.
func (s *Shell) Open(port uart.PortID, args ...string) error {
	if err := s.Init(); err != nil {
		return err
	}
	cfg := s.PortConfig(port)
	if len(args) > 0 {
		cfg.Device = args[0]
	}
	if len(args) > 1 {
		baud, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid BAUD: %v", err)
		}
		cfg.BaudRate = baud
	}
	return s.Registry.Initialize(port, cfg)
}

// Output prints v as JSON or plain text.
func (s *Shell) Output(c *ishell.Context, v interface{}) {
	if s.OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(v)
}

// MustBeOpen wraps command func requiring the port in the first argument to
// be open. The parsed port is passed to fn.
func MustBeOpen(fn func(c *ishell.Context, t *uart.Transport)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		port, err := PortArg(c)
		if err != nil {
			c.Err(err)
			return
		}
		s := ShellFrom(c)
		if s.Registry == nil {
			c.Err(uart.ErrNotInitialised)
			return
		}
		t, err := s.Registry.Transport(port)
		if err != nil {
			c.Err(err)
			return
		}
		fn(c, t)
	}
}

// PortArg parses the first argument as a port.
func PortArg(c *ishell.Context) (uart.PortID, error) {
	if len(c.Args) < 1 {
		return 0, fmt.Errorf("PORT required")
	}
	return uart.ParsePortID(c.Args[0])
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if err := s.Init(); err != nil {
		log.Fatalln(err)
	}
	defer s.Registry.CloseAll()
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// PortsCmd lists open ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var names []string
			if s.Registry != nil {
				for _, port := range s.Registry.Ports() {
					names = append(names, port.String())
				}
			}
			if s.OutputJSON {
				if names == nil {
					names = []string{}
				}
				s.Output(c, names)
				return
			}
			if len(names) == 0 {
				c.Println("No ports open")
				return
			}
			for _, name := range names {
				c.Println(name)
			}
		},
	}

	// OpenCmd opens a port.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "PORT [DEVICE [BAUD]]",
		Func: func(c *ishell.Context) {
			port, err := PortArg(c)
			if err != nil {
				c.Err(err)
				return
			}
			if err := ShellFrom(c).Open(port, c.Args[1:]...); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes a port.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "PORT",
		Func: func(c *ishell.Context) {
			port, err := PortArg(c)
			if err != nil {
				c.Err(err)
				return
			}
			s := ShellFrom(c)
			if s.Registry == nil {
				c.Err(uart.ErrNotInitialised)
				return
			}
			if err := s.Registry.Close(port); err != nil {
				c.Err(err)
			}
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(config.NewConfig()).Run(flag.Args()...)
}
