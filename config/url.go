package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseURL parses a connection URL of the form
// scheme://[user[:password]@]host[:port][/database][?k=v&...]
// into a ConnectOptions. Percent-decoding applies to user, password, and
// path. SQLite recognises "sqlite::memory:" and
// "sqlite://[path][?mode=ro|rw|rwc|memory]"; ":memory:" anywhere in the
// path means an in-memory database.
func ParseURL(raw string) (ConnectOptions, error) {
	if strings.HasPrefix(raw, "sqlite::memory:") {
		return ConnectOptions{Scheme: SchemeSQLite, SQLiteMode: SQLiteModeMemory, SQLitePath: ":memory:"}.WithDefaults(), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ConnectOptions{}, fmt.Errorf("config: parsing connection URL: %w", err)
	}

	scheme, err := normalizeScheme(u.Scheme)
	if err != nil {
		return ConnectOptions{}, err
	}

	o := ConnectOptions{Scheme: scheme}

	if scheme == SchemeSQLite {
		return parseSQLiteURL(u)
	}

	if u.User != nil {
		o.Username = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			o.Password = pass
		}
	}

	o.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return ConnectOptions{}, fmt.Errorf("config: invalid port %q: %w", p, err)
		}
		o.Port = port
	}

	o.Database = strings.TrimPrefix(u.Path, "/")

	q := u.Query()
	o.ApplicationName = firstNonEmpty(q.Get("application_name"), q.Get("app_name"))
	o.TLSRootCert = firstNonEmpty(q.Get("sslrootcert"), q.Get("ssl-ca"))
	o.TLSCert = q.Get("sslcert")
	o.TLSKey = q.Get("sslkey")
	if mode := firstNonEmpty(q.Get("sslmode"), q.Get("ssl-mode")); mode != "" {
		o.TLSMode = ParseTLSMode(mode)
	}
	if cap := q.Get("statement_cache_capacity"); cap != "" {
		n, err := strconv.Atoi(cap)
		if err != nil {
			return ConnectOptions{}, fmt.Errorf("config: invalid statement_cache_capacity %q: %w", cap, err)
		}
		o.StatementCacheCapacity = n
	}
	if host := q.Get("host"); host != "" && o.Host == "" {
		o.Host = host
	}
	if port := q.Get("port"); port != "" && o.Port == 0 {
		n, err := strconv.Atoi(port)
		if err != nil {
			return ConnectOptions{}, fmt.Errorf("config: invalid port query param %q: %w", port, err)
		}
		o.Port = n
	}
	if socket := q.Get("socket"); socket != "" {
		o.Socket = socket
	}

	return o.WithDefaults(), nil
}

func parseSQLiteURL(u *url.URL) (ConnectOptions, error) {
	o := ConnectOptions{Scheme: SchemeSQLite}
	path := u.Opaque
	if path == "" {
		path = u.Path
		if u.Host != "" {
			path = u.Host + path
		}
	}
	if path == "" {
		path = ":memory:"
	}
	o.SQLitePath = path

	q := u.Query()
	switch q.Get("mode") {
	case "ro":
		o.SQLiteMode = SQLiteModeReadOnly
	case "rw":
		o.SQLiteMode = SQLiteModeReadWrite
	case "memory":
		o.SQLiteMode = SQLiteModeMemory
	default:
		o.SQLiteMode = SQLiteModeReadWriteCreate
	}
	if strings.Contains(path, ":memory:") {
		o.SQLiteMode = SQLiteModeMemory
	}
	o.SQLiteCache = q.Get("cache")
	o.SQLiteJournal = q.Get("journal_mode")
	o.SQLiteForeignKey = q.Get("foreign_keys") == "1" || q.Get("foreign_keys") == "true"

	return o.WithDefaults(), nil
}

func normalizeScheme(s string) (Scheme, error) {
	switch s {
	case "postgres", "postgresql":
		return SchemePostgres, nil
	case "mysql":
		return SchemeMySQL, nil
	case "sqlite":
		return SchemeSQLite, nil
	default:
		return "", fmt.Errorf("config: unrecognised scheme %q", s)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// URL reconstructs a connection URL from o. ParseURL(o.URL()) == o modulo
// default-valued parameters.
func (o ConnectOptions) URL() string {
	if o.Scheme == SchemeSQLite {
		if o.SQLiteMode == SQLiteModeMemory || o.SQLitePath == ":memory:" {
			return "sqlite::memory:"
		}
		out := "sqlite://" + o.SQLitePath
		q := url.Values{}
		switch o.SQLiteMode {
		case SQLiteModeReadOnly:
			q.Set("mode", "ro")
		case SQLiteModeReadWrite:
			q.Set("mode", "rw")
		}
		if o.SQLiteCache != "" {
			q.Set("cache", o.SQLiteCache)
		}
		if o.SQLiteJournal != "" {
			q.Set("journal_mode", o.SQLiteJournal)
		}
		if o.SQLiteForeignKey {
			q.Set("foreign_keys", "1")
		}
		if enc := q.Encode(); enc != "" {
			out += "?" + enc
		}
		return out
	}

	u := &url.URL{Scheme: string(o.Scheme)}
	if o.Username != "" {
		if o.Password != "" {
			u.User = url.UserPassword(o.Username, o.Password)
		} else {
			u.User = url.User(o.Username)
		}
	}
	host := o.Host
	if o.Port != 0 {
		host = fmt.Sprintf("%s:%d", o.Host, o.Port)
	}
	u.Host = host
	if o.Database != "" {
		u.Path = "/" + o.Database
	}

	q := url.Values{}
	if o.ApplicationName != "" {
		q.Set("application_name", o.ApplicationName)
	}
	if o.TLSMode != TLSDisabled {
		q.Set("sslmode", o.TLSMode.String())
	}
	if o.TLSRootCert != "" {
		q.Set("sslrootcert", o.TLSRootCert)
	}
	if o.TLSCert != "" {
		q.Set("sslcert", o.TLSCert)
	}
	if o.TLSKey != "" {
		q.Set("sslkey", o.TLSKey)
	}
	if o.Socket != "" {
		q.Set("socket", o.Socket)
	}
	if o.StatementCacheCapacity != 0 && o.StatementCacheCapacity != DefaultStatementCacheCapacity {
		q.Set("statement_cache_capacity", strconv.Itoa(o.StatementCacheCapacity))
	}
	u.RawQuery = q.Encode()

	return u.String()
}
