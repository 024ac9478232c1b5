package core

import (
	"errors"
	"testing"
)

func openTestConn(t *testing.T, bus *fakeBus) *Conn {
	t.Helper()
	conn := newTestCore(bus).NewConn(nil, nil)
	if err := conn.Open(testInfo); err != nil {
		t.Fatalf("open: %v", err)
	}
	return conn
}

func TestConnReconnectOnce(t *testing.T) {
	broken := newFakeDevice()
	broken.writeErr = ErrTimeout
	working := newFakeDevice()
	bus := &fakeBus{
		infos: []DeviceInfo{testInfo},
		devs:  []*fakeDevice{broken, working},
	}
	conn := openTestConn(t, bus)

	if err := conn.Send([]byte("abc")); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	if conn.Reconnects() != 1 {
		t.Errorf("expected 1 reconnect, got %d", conn.Reconnects())
	}
	if broken.closed != 1 {
		t.Errorf("broken device not released, closed %d times", broken.closed)
	}
	if len(working.writes) != 1 {
		t.Errorf("retried transfer did not reach the new handle")
	}
}

func TestConnReconnectDisabled(t *testing.T) {
	broken := newFakeDevice()
	broken.writeErr = ErrTimeout
	bus := &fakeBus{
		infos: []DeviceInfo{testInfo},
		devs:  []*fakeDevice{broken},
	}
	conn := openTestConn(t, bus)
	if err := conn.Configure(DefaultConfig(), 0); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if err := conn.Send([]byte("abc")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if conn.Reconnects() != 0 {
		t.Errorf("reconnected with the flag cleared, count %d", conn.Reconnects())
	}
	if bus.connects != 1 {
		t.Errorf("expected 1 connect, got %d", bus.connects)
	}
}

func TestConnReconnectBounded(t *testing.T) {
	broken := newFakeDevice()
	broken.writeErr = ErrTimeout
	bus := &fakeBus{
		infos: []DeviceInfo{testInfo},
		devs:  []*fakeDevice{broken}, // nothing left for the re-open
	}
	conn := openTestConn(t, bus)

	// re-open fails; the original transfer failure must come through
	// and the wrapper must not keep trying
	if err := conn.Send([]byte("abc")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected original ErrTimeout, got %v", err)
	}
	if conn.Reconnects() != 0 {
		t.Errorf("failed re-open must not count as reconnect, got %d", conn.Reconnects())
	}
}

func TestConnPendingConfig(t *testing.T) {
	dev := newFakeDevice()
	bus := &fakeBus{infos: []DeviceInfo{testInfo}, devs: []*fakeDevice{dev}}
	conn := newTestCore(bus).NewConn(nil, nil)

	cfg := DefaultConfig()
	cfg.EndpointOut = 0x02
	if err := conn.Configure(cfg, FlagAutoReconnect); err != nil {
		t.Fatalf("configure before open: %v", err)
	}
	if err := conn.Open(testInfo); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := conn.Send([]byte("abc")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if dev.writes[0].ep != 0x02 {
		t.Errorf("pending config not applied, endpoint 0x%02x", dev.writes[0].ep)
	}
}

func TestConnPayloadReleasedOnce(t *testing.T) {
	released := 0
	bus := &fakeBus{infos: []DeviceInfo{testInfo}, devs: []*fakeDevice{newFakeDevice()}}
	conn := newTestCore(bus).NewConn("payload", func(p any) {
		if p != "payload" {
			t.Errorf("release got %v", p)
		}
		released++
	})
	if err := conn.Open(testInfo); err != nil {
		t.Fatalf("open: %v", err)
	}

	conn.Close()
	conn.Close()
	if released != 1 {
		t.Errorf("payload released %d times, expected once", released)
	}
	if conn.Session().State() != StateClosed {
		t.Errorf("expected closed session, got %v", conn.Session().State())
	}
}
