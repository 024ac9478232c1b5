package core

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/serialusb/serialusbd-go/memorywriter"
)

type fakeTransfer struct {
	ep      byte
	data    []byte
	timeout time.Duration
}

type fakeDevice struct {
	reads    [][]byte // queued BulkRead responses
	readErr  error
	writeN   int // -1 means write everything
	writeErr error

	writes  []fakeTransfer
	readEPs []byte
	closed  int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{writeN: -1}
}

func (d *fakeDevice) BulkWrite(ep byte, buf []byte, timeout time.Duration) (int, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	d.writes = append(d.writes, fakeTransfer{ep: ep, data: cp, timeout: timeout})
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	if d.writeN >= 0 {
		return d.writeN, nil
	}
	return len(buf), nil
}

func (d *fakeDevice) BulkRead(ep byte, buf []byte, timeout time.Duration) (int, error) {
	d.readEPs = append(d.readEPs, ep)
	if d.readErr != nil {
		return 0, d.readErr
	}
	if len(d.reads) == 0 {
		return 0, nil
	}
	r := d.reads[0]
	d.reads = d.reads[1:]
	return copy(buf, r), nil
}

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

type fakeBus struct {
	infos      []DeviceInfo
	devs       []*fakeDevice // popped on each successful connect
	connectErr error
	connects   int
}

func (b *fakeBus) Enumerate() ([]DeviceInfo, error) {
	return b.infos, nil
}

func (b *fakeBus) Connect(info DeviceInfo) (Device, error) {
	b.connects++
	if b.connectErr != nil {
		return nil, b.connectErr
	}
	if len(b.devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	dev := b.devs[0]
	b.devs = b.devs[1:]
	return dev, nil
}

func (b *fakeBus) Has(path string) bool {
	return true
}

var testInfo = DeviceInfo{
	Path:        "fake1",
	VendorID:    0x0403,
	ProductID:   0x6001,
	Serial:      "A1",
	Description: "fake serial device",
}

func newTestCore(bus Bus) *Core {
	return New(bus, memorywriter.New(1000, 100, false, nil), DefaultConfig())
}

func openTestSession(t *testing.T) (*Session, *fakeBus, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	bus := &fakeBus{infos: []DeviceInfo{testInfo}, devs: []*fakeDevice{dev}}
	sess, err := newTestCore(bus).Open(testInfo)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return sess, bus, dev
}

func TestDiscover(t *testing.T) {
	bus := &fakeBus{infos: []DeviceInfo{
		{Path: "fake1"}, {Path: "fake2"}, {Path: "fake3"},
	}}
	c := newTestCore(bus)

	infos, err := c.Discover(2)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("expected 2 devices, got %d", len(infos))
	}

	infos, err = c.Discover(0)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(infos) != 3 {
		t.Errorf("expected 3 devices, got %d", len(infos))
	}
}

func TestDiscoverEmpty(t *testing.T) {
	c := newTestCore(&fakeBus{})
	infos, err := c.Discover(16)
	if err != nil {
		t.Fatalf("no devices must not be an error, got %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no devices, got %d", len(infos))
	}
}

func TestOpenNotFound(t *testing.T) {
	bus := &fakeBus{connectErr: ErrDeviceNotFound}
	sess, err := newTestCore(bus).Open(testInfo)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if sess.State() != StateError {
		t.Errorf("expected error state, got %v", sess.State())
	}
	if sess.LastError() != CodeNotFound {
		t.Errorf("expected CodeNotFound, got %v", sess.LastError())
	}
	if bus.connects != connectTries {
		t.Errorf("expected %d connect attempts, got %d", connectTries, bus.connects)
	}
}

func TestOpenTwice(t *testing.T) {
	sess, _, _ := openTestSession(t)
	if err := sess.Open(testInfo); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	if sess.State() != StateOpen {
		t.Errorf("second open must not change state, got %v", sess.State())
	}
}

func TestNotOpenGating(t *testing.T) {
	sess, _, dev := openTestSession(t)
	sess.Close()

	if err := sess.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("send: expected ErrNotOpen, got %v", err)
	}
	if _, err := sess.Receive(make([]byte, 8)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("receive: expected ErrNotOpen, got %v", err)
	}
	if err := sess.Configure(DefaultConfig()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("configure: expected ErrNotOpen, got %v", err)
	}

	// closed session must never reach the hardware
	if len(dev.writes) != 0 || len(dev.readEPs) != 0 {
		t.Errorf("closed session touched the device: %d writes, %d reads",
			len(dev.writes), len(dev.readEPs))
	}
}

func TestCloseIdempotent(t *testing.T) {
	sess, _, dev := openTestSession(t)
	sess.Close()
	sess.Close()
	if dev.closed != 1 {
		t.Errorf("device released %d times, expected once", dev.closed)
	}
	if sess.State() != StateClosed {
		t.Errorf("expected closed state, got %v", sess.State())
	}
}

func TestSendUsesConfiguredEndpoint(t *testing.T) {
	sess, _, dev := openTestSession(t)

	if err := sess.Send([]byte("abc")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if dev.writes[0].ep != 0x01 {
		t.Errorf("expected default endpoint 0x01, got 0x%02x", dev.writes[0].ep)
	}

	cfg := sess.Config()
	if err := cfg.Set(ParamEndpointOut, 0x02); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := sess.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if err := sess.Send([]byte("abc")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if dev.writes[1].ep != 0x02 {
		t.Errorf("expected endpoint 0x02 after configure, got 0x%02x", dev.writes[1].ep)
	}
}

func TestSendTimeoutPropagation(t *testing.T) {
	sess, _, dev := openTestSession(t)

	cfg := sess.Config()
	cfg.TimeoutMS = 250
	if err := sess.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := sess.Send([]byte("abc")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if dev.writes[0].timeout != 250*time.Millisecond {
		t.Errorf("expected 250ms timeout, got %v", dev.writes[0].timeout)
	}
}

func TestShortWriteIsTimeout(t *testing.T) {
	sess, _, dev := openTestSession(t)
	dev.writeN = 3

	err := sess.Send([]byte("Hello"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("short write must surface as timeout, got %v", err)
	}
	if sess.LastError() != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", sess.LastError())
	}
	if sess.State() != StateOpen {
		t.Errorf("failed transfer must leave session open, got %v", sess.State())
	}
}

func TestConfigureBadEndpoint(t *testing.T) {
	sess, _, _ := openTestSession(t)
	before := sess.Config()

	cfg := before
	cfg.EndpointOut = 0x82 // direction bit swapped
	err := sess.Configure(cfg)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if sess.Config() != before {
		t.Errorf("rejected configure must not touch the active config")
	}
	if sess.LastError() != CodeInvalidConfig {
		t.Errorf("expected CodeInvalidConfig, got %v", sess.LastError())
	}
}

func TestRoundTrip(t *testing.T) {
	sess, _, dev := openTestSession(t)
	payload := []byte("Hello")
	dev.reads = [][]byte{payload}

	if err := sess.Send(payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Equal(dev.writes[0].data, payload) {
		t.Errorf("device got %q, expected %q", dev.writes[0].data, payload)
	}

	buf := make([]byte, 64)
	n, err := sess.Receive(buf)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if n != len(payload) || n > len(buf) {
		t.Errorf("expected %d bytes, got %d", len(payload), n)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("received %q, expected %q", buf[:n], payload)
	}
	if dev.readEPs[0] != 0x81 {
		t.Errorf("expected IN endpoint 0x81, got 0x%02x", dev.readEPs[0])
	}
}

func TestReceiveZeroBytesIsNotTimeout(t *testing.T) {
	sess, _, _ := openTestSession(t)

	n, err := sess.Receive(make([]byte, 64))
	if err != nil {
		t.Fatalf("zero-byte read must be success, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 bytes, got %d", n)
	}
	if sess.LastError() != CodeNone {
		t.Errorf("zero-byte read must not record an error, got %v", sess.LastError())
	}
}

func TestReceiveTimeout(t *testing.T) {
	sess, _, dev := openTestSession(t)
	dev.readErr = ErrTimeout

	_, err := sess.Receive(make([]byte, 64))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if sess.LastError() != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", sess.LastError())
	}
	if sess.State() != StateOpen {
		t.Errorf("failed transfer must leave session open, got %v", sess.State())
	}
}

func TestLastErrorInitiallyNone(t *testing.T) {
	sess := newTestCore(&fakeBus{}).NewSession()
	if sess.LastError() != CodeNone {
		t.Errorf("expected CodeNone before any operation, got %v", sess.LastError())
	}
}
