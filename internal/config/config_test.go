package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
hosts:
  - alias: box
    hostname: example.com
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConnectTimeout != 15*time.Second {
		t.Fatalf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
	if cfg.TerminalType != "xterm-256color" {
		t.Fatalf("TerminalType = %q", cfg.TerminalType)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0].Hostname != "example.com" {
		t.Fatalf("hosts = %+v", cfg.Hosts)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
default_user: alice
log_level: debug
log_format: json
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultUser != "alice" {
		t.Fatalf("DefaultUser = %q", cfg.DefaultUser)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("LogLevel/LogFormat = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad log_level")
	}
}

func TestValidateRejectsHostWithoutHostname(t *testing.T) {
	cfg := Default()
	cfg.Hosts = []HostConfig{{Alias: "box"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing hostname")
	}
}

func TestValidateRejectsDuplicateAlias(t *testing.T) {
	cfg := Default()
	cfg.Hosts = []HostConfig{
		{Alias: "box", Hostname: "a.example.com"},
		{Alias: "box", Hostname: "b.example.com"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate alias")
	}
}

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Hosts = []HostConfig{{Alias: "box", Hostname: "example.com", Port: 99999}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestLookup(t *testing.T) {
	cfg := Default()
	cfg.Hosts = []HostConfig{{Alias: "box", Hostname: "example.com", Port: 2222}}

	got, ok := cfg.Lookup("box")
	if !ok {
		t.Fatal("expected to find alias \"box\"")
	}
	if got.Addr() != "example.com:2222" {
		t.Fatalf("Addr() = %q", got.Addr())
	}

	if _, ok := cfg.Lookup("missing"); ok {
		t.Fatal("did not expect to find alias \"missing\"")
	}
}

func TestHostConfigAddrDefaultsToPort22(t *testing.T) {
	h := HostConfig{Hostname: "example.com"}
	if h.Addr() != "example.com:22" {
		t.Fatalf("Addr() = %q", h.Addr())
	}
}

func TestExpandEnvVarsWithDefault(t *testing.T) {
	os.Unsetenv("TSSH_TEST_UNSET")
	cfg, err := Parse([]byte(`default_user: ${TSSH_TEST_UNSET:-bob}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultUser != "bob" {
		t.Fatalf("DefaultUser = %q", cfg.DefaultUser)
	}
}

func TestExpandEnvVarsFromEnvironment(t *testing.T) {
	os.Setenv("TSSH_TEST_USER", "carol")
	defer os.Unsetenv("TSSH_TEST_USER")
	cfg, err := Parse([]byte(`default_user: ${TSSH_TEST_USER}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultUser != "carol" {
		t.Fatalf("DefaultUser = %q", cfg.DefaultUser)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/tssh/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
