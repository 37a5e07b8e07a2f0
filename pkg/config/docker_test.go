package config

import (
	"testing"
)

func withContainer(t *testing.T, running bool) {
	t.Helper()
	original := inContainer
	inContainer = func() bool { return running }
	t.Cleanup(func() { inContainer = original })
}

func TestResolveLoopback_NonLoopbackUnchanged(t *testing.T) {
	withContainer(t, true)

	for _, host := range []string{"db.example.com", "192.168.1.100", dockerHostGateway} {
		if got := resolveLoopback(host); got != host {
			t.Errorf("resolveLoopback(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveLoopback_InContainer(t *testing.T) {
	withContainer(t, true)

	for _, host := range []string{"localhost", "127.0.0.1"} {
		if got := resolveLoopback(host); got != dockerHostGateway {
			t.Errorf("resolveLoopback(%q) = %q, want %q", host, got, dockerHostGateway)
		}
	}
}

func TestResolveLoopback_OnHost(t *testing.T) {
	withContainer(t, false)

	if got := resolveLoopback("localhost"); got != "localhost" {
		t.Errorf("resolveLoopback(localhost) = %q, want localhost", got)
	}
}

func TestApplyContainerHosts_SkipsDisabledRedis(t *testing.T) {
	withContainer(t, true)

	cfg := &Config{
		Database: DatabaseConfig{Host: "localhost"},
		Redis:    RedisConfig{Host: ""},
	}
	cfg.applyContainerHosts()

	if cfg.Database.Host != dockerHostGateway {
		t.Errorf("expected database host %q, got %q", dockerHostGateway, cfg.Database.Host)
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected disabled redis to stay empty, got %q", cfg.Redis.Host)
	}
}
