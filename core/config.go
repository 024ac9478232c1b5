package core

import "fmt"

// endpoint direction bit, per USB spec: set for IN, clear for OUT
const endpointDirIn = 0x80

// Config holds the per-session transfer settings. Endpoint and timeout
// changes take effect on the next transfer; BufferSize is an advisory
// hint for callers sizing their buffers, the session does not enforce
// it beyond rejecting zero.
type Config struct {
	TimeoutMS   int64
	BufferSize  int
	EndpointIn  byte
	EndpointOut byte
}

func DefaultConfig() Config {
	return Config{
		TimeoutMS:   1000,
		BufferSize:  4096,
		EndpointIn:  0x81,
		EndpointOut: 0x01,
	}
}

func (c Config) validate() error {
	if c.TimeoutMS < 0 {
		return fmt.Errorf("negative timeout %d: %w", c.TimeoutMS, ErrInvalidConfig)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size %d: %w", c.BufferSize, ErrInvalidConfig)
	}
	if c.EndpointIn&endpointDirIn == 0 {
		return fmt.Errorf("endpoint 0x%02x is not an IN endpoint: %w", c.EndpointIn, ErrInvalidConfig)
	}
	if c.EndpointOut&endpointDirIn != 0 {
		return fmt.Errorf("endpoint 0x%02x is not an OUT endpoint: %w", c.EndpointOut, ErrInvalidConfig)
	}
	return nil
}

// Param enumerates the configuration options adapters may set by name.
// Unknown names are rejected at parse time rather than silently
// dropped.
type Param int

const (
	ParamTimeoutMS Param = iota
	ParamBufferSize
	ParamEndpointIn
	ParamEndpointOut
)

var paramNames = map[string]Param{
	"timeout_ms":   ParamTimeoutMS,
	"buffer_size":  ParamBufferSize,
	"endpoint_in":  ParamEndpointIn,
	"endpoint_out": ParamEndpointOut,
}

func ParseParam(name string) (Param, error) {
	p, ok := paramNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown parameter %q: %w", name, ErrInvalidConfig)
	}
	return p, nil
}

// Set applies one named option to the config, validating the value
// range before mutating anything.
func (c *Config) Set(p Param, value int64) error {
	switch p {
	case ParamTimeoutMS:
		if value < 0 {
			return fmt.Errorf("negative timeout %d: %w", value, ErrInvalidConfig)
		}
		c.TimeoutMS = value
	case ParamBufferSize:
		if value <= 0 {
			return fmt.Errorf("buffer size %d: %w", value, ErrInvalidConfig)
		}
		c.BufferSize = int(value)
	case ParamEndpointIn:
		if value < 0 || value > 0xff || byte(value)&endpointDirIn == 0 {
			return fmt.Errorf("bad IN endpoint 0x%02x: %w", value, ErrInvalidConfig)
		}
		c.EndpointIn = byte(value)
	case ParamEndpointOut:
		if value < 0 || value > 0xff || byte(value)&endpointDirIn != 0 {
			return fmt.Errorf("bad OUT endpoint 0x%02x: %w", value, ErrInvalidConfig)
		}
		c.EndpointOut = byte(value)
	default:
		return fmt.Errorf("unknown parameter %d: %w", p, ErrInvalidConfig)
	}
	return nil
}
