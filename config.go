package main

import (
	"github.com/BurntSushi/toml"

	"github.com/serialusb/serialusbd-go/core"
)

// FTDI and STM32, the vendors the shipped devices use; overridable
// through the config file.
var defaultVendors = []uint16{0x0403, 0x0483}

type usbSection struct {
	Vendors []uint16 `toml:"vendors"`
}

type defaultsSection struct {
	TimeoutMS  int64 `toml:"timeout_ms"`
	BufferSize int   `toml:"buffer_size"`
}

type daemonConfig struct {
	USB      usbSection      `toml:"usb"`
	Defaults defaultsSection `toml:"defaults"`
}

// loadConfig reads the TOML daemon configuration, or returns the
// built-in defaults when no file is given.
func loadConfig(path string) (*daemonConfig, error) {
	defaults := core.DefaultConfig()
	cfg := &daemonConfig{
		USB: usbSection{Vendors: defaultVendors},
		Defaults: defaultsSection{
			TimeoutMS:  defaults.TimeoutMS,
			BufferSize: defaults.BufferSize,
		},
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if len(cfg.USB.Vendors) == 0 {
		cfg.USB.Vendors = defaultVendors
	}
	return cfg, nil
}
