package usb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"

	"github.com/serialusb/serialusbd-go/core"
	"github.com/serialusb/serialusbd-go/memorywriter"
)

const (
	gousbPrefix        = "usb"
	usbConfigNum       = 1
	usbIfaceNum        = 0
	usbAltSetting      = 0
	endpointNumberMask = 0x0f
)

// GoUSB is the libusb-backed bus. Enumeration is filtered to an
// allow-list of vendor IDs; the list comes from configuration, the
// two IDs the shipped devices use are just the default.
type GoUSB struct {
	usb     *gousb.Context
	vendors []uint16
	mw      *memorywriter.MemoryWriter
}

func InitGoUSB(mw *memorywriter.MemoryWriter, vendors []uint16) (*GoUSB, error) {
	mw.Log("gousb - init")
	ctx := gousb.NewContext()

	return &GoUSB{
		usb:     ctx,
		vendors: vendors,
		mw:      mw,
	}, nil
}

func (b *GoUSB) Close() {
	b.mw.Log("gousb - all close (should happen only on exit)")
	if err := b.usb.Close(); err != nil {
		b.mw.Log("gousb - close: " + err.Error())
	}
}

func (b *GoUSB) Has(path string) bool {
	return strings.HasPrefix(path, gousbPrefix)
}

func (b *GoUSB) matchVendor(v gousb.ID) bool {
	for _, allowed := range b.vendors {
		if uint16(v) == allowed {
			return true
		}
	}
	return false
}

func devicePath(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("%s%d-%d", gousbPrefix, desc.Bus, desc.Address)
}

// Enumerate lists attached devices from the vendor allow-list. Each
// match is opened transiently to read its serial and product strings
// and closed right away. A device that cannot be opened is skipped
// entirely rather than reported with fabricated blank identity, and
// one broken candidate never aborts the rest of the scan.
func (b *GoUSB) Enumerate() ([]core.DeviceInfo, error) {
	b.mw.Log("gousb - enumerating")

	devs, err := b.usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return b.matchVendor(desc.Vendor)
	})
	if err != nil {
		// some candidates refused to open; the ones that did open
		// are still in devs, so just log and carry on
		b.mw.Log("gousb - enumerate open: " + err.Error())
	}

	infos := make([]core.DeviceInfo, 0, len(devs))
	for _, dev := range devs {
		info := core.DeviceInfo{
			Path:      devicePath(dev.Desc),
			VendorID:  uint16(dev.Desc.Vendor),
			ProductID: uint16(dev.Desc.Product),
		}

		// string descriptors are best effort, empty on failure
		if serial, serr := dev.SerialNumber(); serr == nil {
			info.Serial = serial
		}
		if product, perr := dev.Product(); perr == nil {
			info.Description = product
		}

		if cerr := dev.Close(); cerr != nil {
			b.mw.Log("gousb - transient close: " + cerr.Error())
		}
		infos = append(infos, info)
	}

	b.mw.Log(fmt.Sprintf("gousb - enumerating done, %d devices", len(infos)))
	return infos, nil
}

// Connect re-enumerates and opens a device matching the descriptor's
// vendor/product ID, preferring the exact bus path when more than one
// is attached, then claims interface 0.
func (b *GoUSB) Connect(info core.DeviceInfo) (core.Device, error) {
	b.mw.Log("gousb - connect " + info.Path)

	devs, err := b.usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == info.VendorID &&
			uint16(desc.Product) == info.ProductID
	})
	if len(devs) == 0 {
		if err != nil {
			return nil, mapUSBError(err)
		}
		return nil, core.ErrDeviceNotFound
	}
	if err != nil {
		b.mw.Log("gousb - connect partial open: " + err.Error())
	}

	// exact path first, the rest as fallback candidates
	for i, dev := range devs {
		if devicePath(dev.Desc) == info.Path && i != 0 {
			devs[0], devs[i] = devs[i], devs[0]
		}
	}

	var errs error
	for i, dev := range devs {
		d, cerr := b.claim(dev)
		if cerr == nil {
			for _, rest := range devs[i+1:] {
				_ = rest.Close()
			}
			return d, nil
		}
		errs = multierror.Append(errs, cerr)
	}
	return nil, mapUSBError(errs)
}

// claim prepares one opened device for bulk I/O. The device is closed
// on every failure path so a failed claim never leaks the handle.
func (b *GoUSB) claim(dev *gousb.Device) (*Device, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		b.mw.Log("gousb - autodetach: " + err.Error())
	}

	cfg, err := dev.Config(usbConfigNum)
	if err != nil {
		_ = dev.Close()
		return nil, mapUSBError(err)
	}

	intf, err := cfg.Interface(usbIfaceNum, usbAltSetting)
	if err != nil {
		_ = cfg.Close()
		_ = dev.Close()
		return nil, mapUSBError(err)
	}

	b.mw.Log("gousb - interface claimed")
	return &Device{
		dev:  dev,
		cfg:  cfg,
		intf: intf,
		mw:   b.mw,
		ins:  make(map[byte]*gousb.InEndpoint),
		outs: make(map[byte]*gousb.OutEndpoint),
	}, nil
}

// Device is one claimed gousb handle. Endpoint objects are resolved
// from the configured address on first use and cached, so a
// configuration change simply targets a different endpoint on the
// next transfer.
type Device struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	closed int32 // atomic
	mu     sync.Mutex
	ins    map[byte]*gousb.InEndpoint
	outs   map[byte]*gousb.OutEndpoint

	mw *memorywriter.MemoryWriter
}

func (d *Device) inEndpoint(ep byte) (*gousb.InEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if in, ok := d.ins[ep]; ok {
		return in, nil
	}
	in, err := d.intf.InEndpoint(int(ep & endpointNumberMask))
	if err != nil {
		return nil, mapUSBError(err)
	}
	d.ins[ep] = in
	return in, nil
}

func (d *Device) outEndpoint(ep byte) (*gousb.OutEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if out, ok := d.outs[ep]; ok {
		return out, nil
	}
	out, err := d.intf.OutEndpoint(int(ep & endpointNumberMask))
	if err != nil {
		return nil, mapUSBError(err)
	}
	d.outs[ep] = out
	return out, nil
}

func transferContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (d *Device) BulkRead(ep byte, buf []byte, timeout time.Duration) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	in, err := d.inEndpoint(ep)
	if err != nil {
		return 0, err
	}

	ctx, cancel := transferContext(timeout)
	defer cancel()

	n, err := in.ReadContext(ctx, buf)
	if err != nil {
		return 0, mapUSBError(err)
	}
	return n, nil
}

func (d *Device) BulkWrite(ep byte, buf []byte, timeout time.Duration) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	out, err := d.outEndpoint(ep)
	if err != nil {
		return 0, err
	}

	ctx, cancel := transferContext(timeout)
	defer cancel()

	n, err := out.WriteContext(ctx, buf)
	if err != nil {
		// the backend may have moved some bytes before failing;
		// report them, the session decides what a short write means
		return n, mapUSBError(err)
	}
	return n, nil
}

// Close releases the interface and the handle. No-op on a device that
// is already closed.
func (d *Device) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}

	d.mw.Log("gousb - releasing interface")
	d.intf.Close()
	if err := d.cfg.Close(); err != nil {
		// just log, it is a release anyway
		d.mw.Log("gousb - config close: " + err.Error())
	}
	return d.dev.Close()
}

// mapUSBError translates gousb/libusb faults to the core taxonomy.
// Faults with no mapping pass through unchanged and get classified by
// the caller's fallback.
func mapUSBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, core.ErrTimeout)
	}

	var uerr gousb.Error
	if errors.As(err, &uerr) {
		switch uerr {
		case gousb.ErrorTimeout:
			return fmt.Errorf("%v: %w", err, core.ErrTimeout)
		case gousb.ErrorAccess:
			return fmt.Errorf("%v: %w", err, core.ErrAccessDenied)
		case gousb.ErrorBusy:
			return fmt.Errorf("%v: %w", err, core.ErrDeviceBusy)
		case gousb.ErrorNoDevice, gousb.ErrorNotFound:
			return fmt.Errorf("%v: %w", err, core.ErrDeviceNotFound)
		}
	}
	return err
}
