package core

import "errors"

// Code is the numeric error classification kept in the session's
// last-error slot. Values match the codes the bridge adapter reports.
type Code int

const (
	CodeNone          Code = 0
	CodeNotFound      Code = -1
	CodeAccessDenied  Code = -2
	CodeBusy          Code = -3
	CodeTimeout       Code = -4
	CodeInvalidConfig Code = -5
	CodeNotOpen       Code = -6
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeNotFound:
		return "device not found"
	case CodeAccessDenied:
		return "access denied"
	case CodeBusy:
		return "device busy"
	case CodeTimeout:
		return "timeout"
	case CodeInvalidConfig:
		return "invalid config"
	case CodeNotOpen:
		return "not open"
	}
	return "unknown"
}

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrAccessDenied   = errors.New("device access denied")
	ErrDeviceBusy     = errors.New("device busy")
	ErrTimeout        = errors.New("transfer timed out")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrNotOpen        = errors.New("session not open")
)

// CodeOf classifies an error chain into a Code. Unrecognized errors
// from an open attempt collapse to CodeNotFound, mirroring platforms
// that cannot tell open failures apart; transfer paths pass a
// different fallback.
func CodeOf(err error, fallback Code) Code {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrDeviceBusy):
		return CodeBusy
	case errors.Is(err, ErrInvalidConfig):
		return CodeInvalidConfig
	case errors.Is(err, ErrNotOpen):
		return CodeNotOpen
	case errors.Is(err, ErrDeviceNotFound):
		return CodeNotFound
	}
	return fallback
}
