package usb

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/serialusb/serialusbd-go/core"
	"github.com/serialusb/serialusbd-go/memorywriter"
)

// Device emulator bus. An emulator is a UDP peer on localhost that
// answers a ping handshake; it lets everything above the bus run in
// testing environments with no hardware attached.

const (
	emulatorPrefix  = "emu"
	emulatorNetwork = "udp"
	emulatorHost    = "127.0.0.1"
	pingTimeout     = 500 * time.Millisecond
)

var (
	emulatorPing = []byte("PINGPING")
	emulatorPong = []byte("PONGPONG")
)

type UDP struct {
	ports []int
	mw    *memorywriter.MemoryWriter
}

func InitUDP(ports []int, mw *memorywriter.MemoryWriter) (*UDP, error) {
	return &UDP{
		ports: ports,
		mw:    mw,
	}, nil
}

func (b *UDP) Has(path string) bool {
	return strings.HasPrefix(path, emulatorPrefix)
}

func (b *UDP) Enumerate() ([]core.DeviceInfo, error) {
	var infos []core.DeviceInfo

	for _, port := range b.ports {
		if !b.alive(port) {
			continue
		}
		infos = append(infos, core.DeviceInfo{
			Path:        emulatorPrefix + strconv.Itoa(port),
			Serial:      strconv.Itoa(port),
			Description: "udp emulator",
		})
	}
	return infos, nil
}

// alive checks the ping handshake on one port. No answer just means
// no emulator is running there.
func (b *UDP) alive(port int) bool {
	dev, err := b.dial(port)
	if err != nil {
		return false
	}
	defer func() { _ = dev.Close() }()

	if _, err := dev.BulkWrite(0, emulatorPing, pingTimeout); err != nil {
		return false
	}

	response := make([]byte, len(emulatorPong))
	n, err := dev.BulkRead(0, response, pingTimeout)
	if err != nil {
		return false
	}
	return bytes.Equal(response[:n], emulatorPong)
}

func (b *UDP) Connect(info core.DeviceInfo) (core.Device, error) {
	port, err := strconv.Atoi(strings.TrimPrefix(info.Path, emulatorPrefix))
	if err != nil {
		return nil, fmt.Errorf("bad emulator path %q: %w", info.Path, core.ErrDeviceNotFound)
	}
	b.mw.Log("udp - connect " + info.Path)
	return b.dial(port)
}

func (b *UDP) dial(port int) (*UDPDevice, error) {
	conn, err := net.Dial(emulatorNetwork, net.JoinHostPort(emulatorHost, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrDeviceNotFound)
	}
	return &UDPDevice{conn: conn}, nil
}

// UDPDevice speaks to an emulator over one datagram socket. The
// emulator has a single pipe, so endpoint addresses are accepted and
// ignored. Deadlines stand in for the bulk transfer timeout.
type UDPDevice struct {
	conn   net.Conn
	closed int32 // atomic
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func (d *UDPDevice) BulkWrite(_ byte, buf []byte, timeout time.Duration) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	if err := d.conn.SetWriteDeadline(deadline(timeout)); err != nil {
		return 0, err
	}
	n, err := d.conn.Write(buf)
	if err != nil {
		return n, mapNetError(err)
	}
	return n, nil
}

func (d *UDPDevice) BulkRead(_ byte, buf []byte, timeout time.Duration) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	if err := d.conn.SetReadDeadline(deadline(timeout)); err != nil {
		return 0, err
	}
	n, err := d.conn.Read(buf)
	if err != nil {
		return 0, mapNetError(err)
	}
	return n, nil
}

func (d *UDPDevice) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	return d.conn.Close()
}

func mapNetError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%v: %w", err, core.ErrTimeout)
	}
	return err
}
