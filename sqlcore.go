// Package sqlcore is a multi-database SQL client core providing uniform
// asynchronous-shaped access to PostgreSQL, MySQL/MariaDB, and SQLite
// over their native wire protocols (Postgres/MySQL) or an embedded
// pure-Go engine (SQLite). It implements the wire codec, both network
// drivers' handshake/auth/query state machines, a lazily-iterated
// cursor/result-set layer, and a connection pool; query builders,
// migrations, a CLI, and ORM helpers are explicitly out of scope — see
// package pool for pooling and package config for connection setup.
package sqlcore

import (
	"context"

	"github.com/dbbouncer/sqlcore/config"
)

// Open parses rawURL (postgres://, mysql://, or sqlite:// scheme) and
// dials a single connection. It is a convenience wrapper around
// config.ParseURL and Connect for callers who don't need a Pool.
func Open(ctx context.Context, rawURL string) (*Conn, error) {
	opts, err := config.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, opts)
}
