package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 15 {
		t.Fatalf("expected 15 max open conns, got %d", got.MaxOpenConns)
	}
	if got.MaxIdleConns != 5 {
		t.Fatalf("expected 5 max idle conns, got %d", got.MaxIdleConns)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", got.PingTimeout)
	}
}

func TestPostgresPoolOverridesKept(t *testing.T) {
	in := PostgresPoolConfig{MaxOpenConns: 50, PingTimeout: time.Second}
	got := in.withDefaults()
	if got.MaxOpenConns != 50 {
		t.Fatalf("override lost: %d", got.MaxOpenConns)
	}
	if got.PingTimeout != time.Second {
		t.Fatalf("override lost: %s", got.PingTimeout)
	}
	if got.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unset field should default, got %s", got.ConnMaxLifetime)
	}
}
