package config

import "os"

// PostgresEnv holds the PG* environment variables as an opt-in fallback
// source. The core never reads these itself; a caller must explicitly
// call FromPostgresEnv.
type PostgresEnv struct {
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
	SSLRootCert string
	AppName     string
}

// ReadPostgresEnv reads PGHOST, PGPORT, PGUSER, PGPASSWORD, PGDATABASE,
// PGSSLMODE, PGSSLROOTCERT, PGAPPNAME from the process environment.
func ReadPostgresEnv() PostgresEnv {
	return PostgresEnv{
		Host:        os.Getenv("PGHOST"),
		Port:        os.Getenv("PGPORT"),
		User:        os.Getenv("PGUSER"),
		Password:    os.Getenv("PGPASSWORD"),
		Database:    os.Getenv("PGDATABASE"),
		SSLMode:     os.Getenv("PGSSLMODE"),
		SSLRootCert: os.Getenv("PGSSLROOTCERT"),
		AppName:     os.Getenv("PGAPPNAME"),
	}
}

// ApplyPostgresEnv fills zero-valued fields of o from env, without
// overriding anything already set by the URL. The caller must opt in by
// invoking this explicitly; the core never reads the environment on its
// own.
func ApplyPostgresEnv(o ConnectOptions, env PostgresEnv) ConnectOptions {
	if o.Host == "" {
		o.Host = env.Host
	}
	if o.Port == 0 && env.Port != "" {
		if p, err := parsePort(env.Port); err == nil {
			o.Port = p
		}
	}
	if o.Username == "" {
		o.Username = env.User
	}
	if o.Password == "" {
		o.Password = env.Password
	}
	if o.Database == "" {
		o.Database = env.Database
	}
	if o.TLSMode == TLSDisabled && env.SSLMode != "" {
		o.TLSMode = ParseTLSMode(env.SSLMode)
	}
	if o.TLSRootCert == "" {
		o.TLSRootCert = env.SSLRootCert
	}
	if o.ApplicationName == "" {
		o.ApplicationName = env.AppName
	}
	return o
}

// DatabaseURLEnv reads DATABASE_URL — only when the caller opts in by
// calling this function.
func DatabaseURLEnv() (string, bool) {
	v := os.Getenv("DATABASE_URL")
	return v, v != ""
}

func parsePort(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &Error{Msg: "invalid port: " + s}
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// Error is a small local parse error; kept distinct from the root
// package's *sqlcore.Error so config stays import-cycle free.
type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }
