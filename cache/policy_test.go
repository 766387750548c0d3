package cache

import (
	"errors"
	"testing"

	"github.com/jonwraymond/xpersist/fingerprint"
)

func TestParseWriteFailureMode(t *testing.T) {
	tests := []struct {
		in      string
		want    WriteFailureMode
		wantErr bool
	}{
		{in: "", want: FailClosed},
		{in: "fail-closed", want: FailClosed},
		{in: "fail-open", want: FailOpen},
		{in: "open", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWriteFailureMode(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPolicy) {
					t.Fatalf("ParseWriteFailureMode(%q) error = %v, want ErrInvalidPolicy", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseWriteFailureMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if tt.in != "" && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default", policy: DefaultPolicy()},
		{name: "fail open with bound", policy: Policy{WriteFailure: FailOpen, MaxConcurrentComputes: 2}},
		{name: "unknown mode", policy: Policy{WriteFailure: WriteFailureMode(7)}, wantErr: true},
		{name: "negative bound", policy: Policy{MaxConcurrentComputes: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestWarning_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	w := Warning{Op: "write", Name: "pkg.f", Fingerprint: fingerprint.Fingerprint("sha256:" + hex64), Err: cause}
	if !errors.Is(w, cause) {
		t.Error("expected warning to unwrap to its cause")
	}
	if w.Error() == "" {
		t.Error("expected non-empty message")
	}
}

const hex64 = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
