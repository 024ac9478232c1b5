package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/serialusb/serialusbd-go/memorywriter"
)

// Package with the session state machine and device lifecycle.
//
// The usb package is not imported here - its real backend pulls in
// cgo through gousb, so keeping this package on abstract interfaces
// lets it (and its tests) build without the platform USB stack.

// Bus and Device are implemented by the usb package.

type Bus interface {
	Enumerate() ([]DeviceInfo, error)
	Connect(info DeviceInfo) (Device, error)
	Has(path string) bool
}

// Device is one claimed USB handle. A zero timeout means no deadline.
// BulkRead may legitimately return fewer bytes than the buffer holds,
// including zero when the peer sent nothing; that is success, not a
// timeout. Close must be safe to call more than once.
type Device interface {
	BulkRead(endpoint byte, buf []byte, timeout time.Duration) (int, error)
	BulkWrite(endpoint byte, buf []byte, timeout time.Duration) (int, error)
	Close() error
}

// DeviceInfo identifies one attached device. Immutable after
// enumeration; sessions keep their own copy. Serial and Description
// are best-effort and empty when the string descriptors could not be
// read.
type DeviceInfo struct {
	Path        string `json:"path"`
	VendorID    uint16 `json:"vendor"`
	ProductID   uint16 `json:"product"`
	Serial      string `json:"serial"`
	Description string `json:"description"`
}

type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Core owns the bus and builds sessions on top of it. defaults is the
// configuration new sessions start with.
type Core struct {
	bus      Bus
	defaults Config
	log      *memorywriter.MemoryWriter
}

func New(bus Bus, log *memorywriter.MemoryWriter, defaults Config) *Core {
	if defaults.validate() != nil {
		defaults = DefaultConfig()
	}
	return &Core{
		bus:      bus,
		defaults: defaults,
		log:      log,
	}
}

func (c *Core) Log(s string) {
	c.log.Log("core - " + s)
}

// Discover enumerates attached devices, returning at most max entries
// (max <= 0 means no cap). Zero devices is a normal outcome and comes
// back as an empty list, not an error.
func (c *Core) Discover(max int) ([]DeviceInfo, error) {
	c.Log("discover")
	infos, err := c.bus.Enumerate()
	if err != nil {
		return nil, err
	}
	if max > 0 && len(infos) > max {
		infos = infos[:max]
	}
	c.Log(fmt.Sprintf("discover found %d", len(infos)))
	return infos, nil
}

// NewSession returns a closed session with the default configuration.
func (c *Core) NewSession() *Session {
	return &Session{
		bus:    c.bus,
		state:  StateClosed,
		config: c.defaults,
		log:    c.log,
	}
}

// Open is NewSession followed by Session.Open. The session is returned
// even when the open fails so the caller can inspect LastError.
func (c *Core) Open(info DeviceInfo) (*Session, error) {
	s := c.NewSession()
	err := s.Open(info)
	return s, err
}

// Session is one device connection. All hardware-touching operations
// are gated on the open state; a failed transfer leaves the session
// open and the caller decides whether to close. The session assumes a
// single caller at a time - the mutex only keeps the state transitions
// themselves consistent.
type Session struct {
	mu  sync.Mutex
	bus Bus
	log *memorywriter.MemoryWriter

	info    DeviceInfo
	dev     Device
	state   State
	config  Config
	lastErr Code
}

const (
	connectTries = 3
	connectDelay = 100 * time.Millisecond
)

// Open claims the device described by info. Only valid on a closed
// session. On failure the session moves to the error state, holds no
// handle and records the cause in the last-error slot.
func (s *Session) Open(info DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		return fmt.Errorf("open in state %v: %w", s.state, ErrDeviceBusy)
	}

	s.state = StateOpening
	dev, err := s.tryConnect(info)
	if err != nil {
		s.state = StateError
		s.lastErr = CodeOf(err, CodeNotFound)
		return err
	}

	s.info = info
	s.dev = dev
	s.state = StateOpen
	s.lastErr = CodeNone
	s.log.Log("session - open " + info.Path)
	return nil
}

// Right after plugging in, the OS may still be settling the device
// node; a connect can fail with bad timing. Retry a few times with a
// short delay before giving up.
func (s *Session) tryConnect(info DeviceInfo) (Device, error) {
	tries := 0
	for {
		dev, err := s.bus.Connect(info)
		if err == nil {
			return dev, nil
		}
		tries++
		if tries >= connectTries {
			return nil, err
		}
		s.log.Log(fmt.Sprintf("session - connect failed, try %d: %s", tries, err))
		time.Sleep(connectDelay)
	}
}

func (s *Session) timeout() time.Duration {
	return time.Duration(s.config.TimeoutMS) * time.Millisecond
}

// Send writes buf to the configured OUT endpoint. A transfer that
// moves fewer bytes than requested is a failure even when the backend
// reported success; serial peers do not accept half a command. Failed
// transfers record a timeout and leave the session open.
func (s *Session) Send(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		s.lastErr = CodeNotOpen
		return fmt.Errorf("send in state %v: %w", s.state, ErrNotOpen)
	}

	n, err := s.dev.BulkWrite(s.config.EndpointOut, buf, s.timeout())
	if err != nil {
		s.lastErr = CodeOf(err, CodeTimeout)
		return fmt.Errorf("send: %w", err)
	}
	if n < len(buf) {
		s.lastErr = CodeTimeout
		return fmt.Errorf("send: short write %d of %d bytes: %w", n, len(buf), ErrTimeout)
	}
	return nil
}

// Receive reads from the configured IN endpoint into buf and returns
// the byte count. A zero count with a nil error means the transfer
// completed with nothing to read; only a timeout fault comes back as
// ErrTimeout, so callers can tell the two apart.
func (s *Session) Receive(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		s.lastErr = CodeNotOpen
		return 0, fmt.Errorf("receive in state %v: %w", s.state, ErrNotOpen)
	}

	n, err := s.dev.BulkRead(s.config.EndpointIn, buf, s.timeout())
	if err != nil {
		s.lastErr = CodeOf(err, CodeTimeout)
		return 0, fmt.Errorf("receive: %w", err)
	}
	return n, nil
}

// Configure replaces the session configuration. Allowed only while
// open - settings are only meaningful against a live device. The
// candidate is validated before committing, so a rejected update never
// partially mutates the active configuration.
func (s *Session) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		s.lastErr = CodeInvalidConfig
		return fmt.Errorf("configure in state %v: %w", s.state, ErrNotOpen)
	}

	if err := cfg.validate(); err != nil {
		s.lastErr = CodeInvalidConfig
		return err
	}

	s.config = cfg
	return nil
}

// Close releases the device handle, if any, and returns the session to
// the closed state. Idempotent and valid in any state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			// nothing the caller can do about it; the handle is gone either way
			s.log.Log("session - close: " + err.Error())
		}
		s.dev = nil
	}
	s.state = StateClosed
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *Session) Info() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// LastError reports the code of the most recent failure. Always
// readable; CodeNone before anything went wrong.
func (s *Session) LastError() Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
