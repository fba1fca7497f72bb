package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/uartlink/pkg/config"
	fx "github.com/robotalks/uartlink/pkg/framework"
	"github.com/robotalks/uartlink/pkg/uart/driver/loopback"
)

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := config.Default()
	reg := conf.MustNewRegistry()
	defer reg.CloseAll()

	runner := fx.NewRunner().HandleSignals()
	for _, port := range reg.Ports() {
		runner.Go(reg.Tasks(port, conf.ReceivePeriod, conf.TransmitPeriod)...)
	}
	if lb, ok := reg.Driver().(*loopback.Driver); ok {
		runner.Go(fx.NamedRun("loopback", fx.RunFunc(lb.Run)))
	}
	bridges, err := conf.NewBridges(reg)
	if err != nil {
		log.Fatalln(err)
	}
	runner.Go(bridges...)

	if err := runner.Wait(); err != nil {
		glog.Error(err)
	}
}
