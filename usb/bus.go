package usb

import (
	"errors"

	"github.com/serialusb/serialusbd-go/core"
)

// USB multiplexes several buses behind one core.Bus. Each bus owns a
// path prefix; Connect routes by it.
type USB struct {
	buses []core.Bus
}

func Init(buses ...core.Bus) *USB {
	return &USB{
		buses: buses,
	}
}

func (b *USB) Has(path string) bool {
	for _, bus := range b.buses {
		if bus.Has(path) {
			return true
		}
	}
	return false
}

func (b *USB) Enumerate() ([]core.DeviceInfo, error) {
	var infos []core.DeviceInfo

	for _, bus := range b.buses {
		l, err := bus.Enumerate()
		if err != nil {
			return nil, err
		}
		infos = append(infos, l...)
	}
	return infos, nil
}

func (b *USB) Connect(info core.DeviceInfo) (core.Device, error) {
	for _, bus := range b.buses {
		if bus.Has(info.Path) {
			return bus.Connect(info)
		}
	}
	return nil, core.ErrDeviceNotFound
}

var errClosedDevice = errors.New("closed device")
