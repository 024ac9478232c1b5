package main

import (
	"fmt"

	"github.com/serialusb/serialusbd-go/core"
	"github.com/serialusb/serialusbd-go/server"
	"github.com/serialusb/serialusbd-go/usb"
)

const version = "0.9.1"

func main() {
	options := parseFlags()

	if options.versionFlag {
		fmt.Printf("serialusbd version %s\n", version)
		return
	}

	stderrWriter, stderrLogger, shortMemoryWriter, longMemoryWriter :=
		initLoggers(options.logfile, options.verbose)

	stderrLogger.Print("serialusbd is starting.")

	cfg, err := loadConfig(options.configfile)
	if err != nil {
		stderrLogger.Fatalf("config: %s", err)
	}

	var buses []core.Bus

	if options.withusb {
		longMemoryWriter.Log(fmt.Sprintf("initing gousb, %d allowed vendors", len(cfg.USB.Vendors)))

		g, errUSB := usb.InitGoUSB(longMemoryWriter, cfg.USB.Vendors)
		if errUSB != nil {
			stderrLogger.Fatalf("gousb: %s", errUSB)
		}
		defer g.Close()
		buses = append(buses, g)
	}

	if len(options.ports) > 0 {
		longMemoryWriter.Log(fmt.Sprintf("emulator port count - %d", len(options.ports)))

		e, errUDP := usb.InitUDP(options.ports, longMemoryWriter)
		if errUDP != nil {
			stderrLogger.Fatalf("udp: %s", errUDP)
		}
		buses = append(buses, e)
	}

	if len(buses) == 0 {
		stderrLogger.Fatalf("No transports enabled")
	}

	b := usb.Init(buses...)

	defaults := core.DefaultConfig()
	defaults.TimeoutMS = cfg.Defaults.TimeoutMS
	defaults.BufferSize = cfg.Defaults.BufferSize

	longMemoryWriter.Log("creating core")
	c := core.New(b, longMemoryWriter, defaults)

	longMemoryWriter.Log("creating HTTP server")
	s, err := server.New(c, stderrWriter, shortMemoryWriter, longMemoryWriter, version)
	if err != nil {
		stderrLogger.Fatalf("https: %s", err)
	}

	longMemoryWriter.Log("running HTTP server")
	err = s.Run()
	if err != nil {
		stderrLogger.Fatalf("https: %s", err)
	}

	longMemoryWriter.Log("main ended successfully")
}
