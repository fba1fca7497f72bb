package main

import (
	"github.com/robotalks/uartlink/pkg/cli/sh"
	"github.com/robotalks/uartlink/pkg/config"

	_ "github.com/robotalks/uartlink/pkg/cli/cmds/port"
)

//go-build: CGO_ENABLED=0

func init() {
	config.SetupFlags()
}

func main() {
	sh.Main()
}
