package core

import (
	"errors"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TimeoutMS != 1000 || cfg.BufferSize != 4096 ||
		cfg.EndpointIn != 0x81 || cfg.EndpointOut != 0x01 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestParseParam(t *testing.T) {
	known := map[string]Param{
		"timeout_ms":   ParamTimeoutMS,
		"buffer_size":  ParamBufferSize,
		"endpoint_in":  ParamEndpointIn,
		"endpoint_out": ParamEndpointOut,
	}
	for name, want := range known {
		p, err := ParseParam(name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if p != want {
			t.Errorf("%s: got %v, want %v", name, p, want)
		}
	}

	for _, name := range []string{"", "timeout", "Timeout_MS", "baud_rate"} {
		if _, err := ParseParam(name); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%q: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestConfigSet(t *testing.T) {
	cases := []struct {
		name  string
		param Param
		value int64
		ok    bool
	}{
		{"timeout", ParamTimeoutMS, 500, true},
		{"timeout zero", ParamTimeoutMS, 0, true},
		{"timeout negative", ParamTimeoutMS, -1, false},
		{"buffer", ParamBufferSize, 64, true},
		{"buffer zero", ParamBufferSize, 0, false},
		{"ep in", ParamEndpointIn, 0x82, true},
		{"ep in wrong direction", ParamEndpointIn, 0x02, false},
		{"ep in out of range", ParamEndpointIn, 0x181, false},
		{"ep out", ParamEndpointOut, 0x02, true},
		{"ep out wrong direction", ParamEndpointOut, 0x82, false},
		{"ep out negative", ParamEndpointOut, -1, false},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		err := cfg.Set(tc.param, tc.value)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
			}
			if cfg != DefaultConfig() {
				t.Errorf("%s: failed Set mutated the config: %+v", tc.name, cfg)
			}
		}
	}
}

func TestValidateDirectionBits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndpointIn = 0x01
	if err := cfg.validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("IN endpoint without direction bit must be invalid, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.EndpointOut = 0x81
	if err := cfg.validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("OUT endpoint with direction bit must be invalid, got %v", err)
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil, CodeTimeout) != CodeNone {
		t.Errorf("nil error must map to CodeNone")
	}
	if CodeOf(ErrAccessDenied, CodeNotFound) != CodeAccessDenied {
		t.Errorf("ErrAccessDenied not recognized")
	}
	if CodeOf(errors.New("mystery"), CodeNotFound) != CodeNotFound {
		t.Errorf("unknown error must map to the fallback")
	}
}
