package core

import (
	"errors"
	"fmt"
	"sync"
)

// Flags tune the behavior of a Conn.
type Flags uint32

const (
	FlagAutoReconnect Flags = 1 << iota
	FlagDebugLogging
	FlagNonBlocking
)

// Conn bundles one session with behavior flags and an opaque caller
// payload, for callers that want reconnect-on-failure without driving
// the session themselves. The payload's lifetime belongs to the Conn;
// its release hook runs exactly once, on Close.
type Conn struct {
	mu      sync.Mutex
	core    *Core
	session *Session

	flags   Flags
	pending *Config // stored by Configure before the device is open

	payload any
	release func(any)
	closed  bool

	reconnects int
}

// NewConn takes ownership of payload; release may be nil.
func (c *Core) NewConn(payload any, release func(any)) *Conn {
	return &Conn{
		core:    c,
		session: c.NewSession(),
		flags:   FlagAutoReconnect,
		payload: payload,
		release: release,
	}
}

func (c *Conn) debug(s string) {
	if c.flags&FlagDebugLogging != 0 {
		c.core.log.Log("conn - " + s)
	}
}

// Configure stores the flags and the configuration. The configuration
// is applied to the session right away when it is open, otherwise on
// the next successful Open.
func (c *Conn) Configure(cfg Config, flags Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flags = flags
	c.debug(fmt.Sprintf("configured: timeout=%d buffer=%d flags=%#x",
		cfg.TimeoutMS, cfg.BufferSize, flags))

	if c.session.State() == StateOpen {
		return c.session.Configure(cfg)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	cp := cfg
	c.pending = &cp
	return nil
}

func (c *Conn) Open(info DeviceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open(info)
}

func (c *Conn) open(info DeviceInfo) error {
	if err := c.session.Open(info); err != nil {
		return err
	}
	if c.pending != nil {
		if err := c.session.Configure(*c.pending); err != nil {
			return err
		}
		c.pending = nil
	}
	return nil
}

// reopen makes the single bounded reconnect attempt: close, re-open
// the same device once. One attempt only, counted so callers can
// observe that it happened.
func (c *Conn) reopen() error {
	info := c.session.Info()
	c.debug("reconnecting " + info.Path)
	c.session.Close()
	if err := c.open(info); err != nil {
		return err
	}
	c.reconnects++
	return nil
}

// Send forwards to the session; on a transfer failure with
// FlagAutoReconnect set it re-opens the device once and retries the
// transfer once. The original failure is surfaced when the re-open
// does not succeed.
func (c *Conn) Send(buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.session.Send(buf)
	if err == nil || c.flags&FlagAutoReconnect == 0 || errors.Is(err, ErrNotOpen) {
		return err
	}
	c.debug("send failed: " + err.Error())
	if rerr := c.reopen(); rerr != nil {
		return err
	}
	return c.session.Send(buf)
}

// Receive forwards to the session with the same single-retry policy
// as Send.
func (c *Conn) Receive(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.session.Receive(buf)
	if err == nil || c.flags&FlagAutoReconnect == 0 || errors.Is(err, ErrNotOpen) {
		return n, err
	}
	c.debug("receive failed: " + err.Error())
	if rerr := c.reopen(); rerr != nil {
		return 0, err
	}
	return c.session.Receive(buf)
}

// Reconnects reports how many automatic re-opens have happened.
func (c *Conn) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

func (c *Conn) Session() *Session {
	return c.session
}

// Close releases the payload and closes the session. Safe to call
// more than once; the payload hook only ever runs on the first call.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.release != nil {
		c.release(c.payload)
	}
	c.payload = nil
	c.session.Close()
}
