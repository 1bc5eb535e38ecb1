package transport

import (
	"errors"
	"testing"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantScheme Scheme
		wantErr    bool
	}{
		{
			name:       "http target",
			raw:        "http://example.com/hooks",
			wantScheme: SchemeHTTP,
		},
		{
			name:       "https target",
			raw:        "https://example.com/hooks",
			wantScheme: SchemeHTTPS,
		},
		{
			name:       "nsq target",
			raw:        "nsq://nsqd:4150/orders",
			wantScheme: SchemeNSQ,
		},
		{
			name:       "nats target",
			raw:        "nats://nats:4222/orders/created",
			wantScheme: SchemeNATS,
		},
		{
			name:    "unsupported scheme",
			raw:     "ftp://example.com/hooks",
			wantErr: true,
		},
		{
			name:    "no scheme",
			raw:     "example.com/hooks",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := ParseTarget(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q) error = nil, want error", tt.raw)
				}
				if !errors.Is(err, ErrUnknownScheme) {
					t.Errorf("ParseTarget(%q) error = %v, want ErrUnknownScheme", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) error = %v", tt.raw, err)
			}
			if target.Scheme != tt.wantScheme {
				t.Errorf("ParseTarget(%q) scheme = %v, want %v", tt.raw, target.Scheme, tt.wantScheme)
			}
			if target.Raw != tt.raw {
				t.Errorf("ParseTarget(%q) raw = %q, want %q", tt.raw, target.Raw, tt.raw)
			}
		})
	}
}

func TestSchemeIsHTTP(t *testing.T) {
	tests := []struct {
		scheme Scheme
		want   bool
	}{
		{SchemeHTTP, true},
		{SchemeHTTPS, true},
		{SchemeNSQ, false},
		{SchemeNATS, false},
		{SchemeUnknown, false},
	}

	for _, tt := range tests {
		if got := tt.scheme.IsHTTP(); got != tt.want {
			t.Errorf("%v.IsHTTP() = %v, want %v", tt.scheme, got, tt.want)
		}
	}
}

func TestSchemeString(t *testing.T) {
	tests := []struct {
		scheme Scheme
		want   string
	}{
		{SchemeHTTP, "http"},
		{SchemeHTTPS, "https"},
		{SchemeNSQ, "nsq"},
		{SchemeNATS, "nats"},
		{SchemeUnknown, "unknown"},
		{Scheme(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.scheme.String(); got != tt.want {
			t.Errorf("Scheme.String() = %q, want %q", got, tt.want)
		}
	}
}
