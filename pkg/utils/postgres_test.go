package utils

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	cfg := PostgresPoolConfig{}.withDefaults()
	if cfg.MaxOpenConns <= 0 || cfg.MaxIdleConns <= 0 {
		t.Fatalf("pool sizes not defaulted: %+v", cfg)
	}
	if cfg.PingTimeout <= 0 {
		t.Fatalf("ping timeout not defaulted: %+v", cfg)
	}

	// Explicit values survive defaulting.
	cfg = PostgresPoolConfig{MaxOpenConns: 3, PingTimeout: time.Second}.withDefaults()
	if cfg.MaxOpenConns != 3 || cfg.PingTimeout != time.Second {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}

func TestWithTxSignature(t *testing.T) {
	// WithTx needs a live database; this is a compile-time check that the
	// helper keeps its transactional shape.
	var fn func(context.Context, *sql.DB, *sql.TxOptions, TxFunc) error = WithTx
	_ = fn
}
