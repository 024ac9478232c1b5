package main

import (
	"flag"
	"strconv"
)

type udpPorts []int

func (i *udpPorts) String() string {
	res := ""
	for n, p := range *i {
		if n > 0 {
			res += ","
		}
		res += strconv.Itoa(p)
	}
	return res
}

func (i *udpPorts) Set(value string) error {
	p, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*i = append(*i, p)
	return nil
}

type initOptions struct {
	logfile     string
	configfile  string
	ports       udpPorts
	withusb     bool
	verbose     bool
	versionFlag bool
}

func parseFlags() initOptions {
	var options initOptions
	flag.StringVar(
		&(options.logfile),
		"l",
		"",
		"Log into a file, rotating after 20MB",
	)
	flag.StringVar(
		&(options.configfile),
		"c",
		"",
		"TOML configuration file with the vendor allow-list",
	)
	flag.Var(
		&(options.ports),
		"e",
		"Use UDP port for device emulator. Can be repeated for more ports. Example: serialusbd -e 21424 -e 21426",
	)
	flag.BoolVar(
		&(options.withusb),
		"u",
		true,
		"Use USB devices. Can be disabled for testing environments. Example: serialusbd -e 21424 -u=false",
	)
	flag.BoolVar(
		&(options.verbose),
		"v",
		false,
		"Write verbose logs to either stderr or logfile",
	)
	flag.BoolVar(
		&(options.versionFlag),
		"version",
		false,
		"Write version",
	)
	flag.Parse()
	return options
}
