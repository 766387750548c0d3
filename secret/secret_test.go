package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("XP_BUCKET", "results")
	t.Setenv("XP_EMPTY", "")

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "plain", want: "plain"},
		{in: "s3://${XP_BUCKET}/cache", want: "s3://results/cache"},
		{in: "$XP_BUCKET", want: "results"},
		{in: "${XP_EMPTY}", want: ""},
		{in: "cost: $$5", want: "cost: $5"},
		{in: "${XP_UNSET_ONE}/${XP_UNSET_TWO}", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandEnvStrict(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingEnv) {
					t.Fatalf("expected ErrMissingEnv, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		ref      string
		ok       bool
	}{
		{"secretref:env:KEY", "env", "KEY", true},
		{"secretref:file:a/b:c", "file", "a/b:c", true},
		{"secretref:env:", "", "", false},
		{"secretref::KEY", "", "", false},
		{"env:KEY", "", "", false},
	}
	for _, tt := range tests {
		p, r, ok := ParseSecretRef(tt.in)
		if p != tt.provider || r != tt.ref || ok != tt.ok {
			t.Errorf("ParseSecretRef(%q) = (%q, %q, %v)", tt.in, p, r, ok)
		}
	}
}

func TestResolver_ResolveValue(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "secret_key"), []byte("s3cr3t\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XP_ACCESS", "AKIA123")
	t.Setenv("XP_BLANK", "")

	r := NewResolver(true, NewEnvProvider(), NewFileProvider(dir))
	ctx := context.Background()

	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "secretref:env:XP_ACCESS", want: "AKIA123"},
		{in: "secretref:file:secret_key", want: "s3cr3t"},
		{in: "user=secretref:env:XP_ACCESS pass=secretref:file:secret_key", want: "user=AKIA123 pass=s3cr3t"},
		{in: "no refs here", want: "no refs here"},
		{in: "secretref:vault:kv/x", wantErr: ErrUnknownProvider},
		{in: "secretref:env:XP_NOT_SET", wantErr: ErrNotFound},
		{in: "secretref:env:XP_BLANK", wantErr: ErrEmpty},
		{in: "secretref:file:../escape", wantErr: ErrNotFound},
		{in: "secretref:file:missing", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := r.ResolveValue(ctx, tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolver_NilExpandsEnvOnly(t *testing.T) {
	t.Setenv("XP_REGION", "eu-west-1")
	var r *Resolver
	got, err := r.ResolveValue(context.Background(), "${XP_REGION}")
	if err != nil || got != "eu-west-1" {
		t.Errorf("ResolveValue() = (%q, %v)", got, err)
	}
}

func TestRegistry(t *testing.T) {
	if got := DefaultRegistry.List(); len(got) != 2 || got[0] != "env" || got[1] != "file" {
		t.Fatalf("DefaultRegistry.List() = %v", got)
	}
	p, err := DefaultRegistry.Create("file", map[string]any{"dir": t.TempDir()})
	if err != nil || p.Name() != "file" {
		t.Fatalf("Create(file) = (%v, %v)", p, err)
	}
	if _, err := DefaultRegistry.Create("vault", nil); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	r := NewRegistry()
	factory := func(map[string]any) (Provider, error) { return NewEnvProvider(), nil }
	if err := r.Register("env", factory); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("env", factory); !errors.Is(err, ErrInvalidRegistration) {
		t.Errorf("duplicate Register() = %v", err)
	}
	if err := r.Register(" ", factory); !errors.Is(err, ErrInvalidRegistration) {
		t.Errorf("blank Register() = %v", err)
	}
}
