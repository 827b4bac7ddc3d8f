// Package config parses and holds connection configuration: the
// ConnectOptions data model, built from a URL
// (scheme://[user[:pass]@]host[:port]/database?opts), from a YAML file of
// named pools, or from scheme-specific environment variables a caller
// opts into explicitly.
package config

import "time"

// TLSMode is the negotiation strictness for a networked engine.
type TLSMode int

const (
	TLSDisabled TLSMode = iota
	TLSPreferred
	TLSRequired
	TLSVerifyCA
	TLSVerifyFull
)

func (m TLSMode) String() string {
	switch m {
	case TLSDisabled:
		return "disabled"
	case TLSPreferred:
		return "preferred"
	case TLSRequired:
		return "required"
	case TLSVerifyCA:
		return "verify-ca"
	case TLSVerifyFull:
		return "verify-full"
	default:
		return "disabled"
	}
}

// ParseTLSMode parses the sslmode/ssl-mode query parameter values.
func ParseTLSMode(s string) TLSMode {
	switch s {
	case "preferred", "prefer":
		return TLSPreferred
	case "required", "require":
		return TLSRequired
	case "verify-ca", "verify_ca":
		return TLSVerifyCA
	case "verify-full", "verify_full":
		return TLSVerifyFull
	default:
		return TLSDisabled
	}
}

// Scheme identifies the target engine.
type Scheme string

const (
	SchemePostgres Scheme = "postgres"
	SchemeMySQL    Scheme = "mysql"
	SchemeSQLite   Scheme = "sqlite"
)

// SQLiteMode selects the open mode for the sqlite "mode" query parameter.
type SQLiteMode int

const (
	SQLiteModeReadWriteCreate SQLiteMode = iota
	SQLiteModeReadOnly
	SQLiteModeReadWrite
	SQLiteModeMemory
)

// ConnectOptions is the immutable configuration parsed from a connection
// URL, built once and shared (never mutated) by every Connection and Pool
// that uses it.
type ConnectOptions struct {
	Scheme Scheme

	Host     string
	Port     int
	Socket   string // unix socket path, if set, takes priority over Host/Port
	Username string
	Password string
	Database string

	TLSMode     TLSMode
	TLSRootCert string
	TLSCert     string
	TLSKey      string

	ApplicationName        string
	StatementCacheCapacity int

	// ConnectAttributes are sent as MySQL CLIENT_CONNECT_ATTRS / Postgres
	// startup parameters beyond user/database/application_name.
	ConnectAttributes map[string]string

	// Compress enables MySQL packet compression (CLIENT_COMPRESS).
	Compress bool

	ConnectTimeout time.Duration

	// SQLite-specific fields, set only when Scheme == SchemeSQLite.
	SQLitePath       string
	SQLiteMode       SQLiteMode
	SQLiteCache      string // "shared" | "private"
	SQLiteJournal    string
	SQLiteForeignKey bool
}

// DefaultStatementCacheCapacity is the pgx/go-sql-driver/mysql norm: 100
// cached prepared statements per connection.
const DefaultStatementCacheCapacity = 100

// WithDefaults returns a copy of o with zero-valued fields set to their
// documented defaults. ConnectOptions is otherwise treated as immutable
// once constructed.
func (o ConnectOptions) WithDefaults() ConnectOptions {
	if o.StatementCacheCapacity == 0 {
		o.StatementCacheCapacity = DefaultStatementCacheCapacity
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	switch o.Scheme {
	case SchemePostgres:
		if o.Port == 0 {
			o.Port = 5432
		}
	case SchemeMySQL:
		if o.Port == 0 {
			o.Port = 3306
		}
	}
	return o
}

// Redacted returns a copy with the password masked, for logging.
func (o ConnectOptions) Redacted() ConnectOptions {
	if o.Password != "" {
		o.Password = "***REDACTED***"
	}
	return o
}
