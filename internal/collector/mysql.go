package collector

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"

	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
)

// erParseError is ER_PARSE_ERROR, returned for statements the server does
// not know.
const erParseError = 1064

// ResultSet is a fully read query result. A nil cell is SQL NULL.
type ResultSet struct {
	Columns []string
	Rows    [][]*string
}

// Target describes how to reach one server.
type Target struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string
	Socket   string
	Timeout  time.Duration
	TLS      string // "", "true", "skip-verify" or "preferred"
}

// Addr returns host:port, defaulting the port to 3306.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 3306
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Label returns Name, or the address when no name was given.
func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	if t.Socket != "" {
		return t.Socket
	}
	return t.Addr()
}

// DSN formats the driver connection string for t.
func (t Target) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = t.User
	cfg.Passwd = t.Password
	if t.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = t.Socket
	} else {
		cfg.Net = "tcp"
		cfg.Addr = t.Addr()
	}
	cfg.Timeout = t.Timeout
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.ReadTimeout = 60 * time.Second
	cfg.TLSConfig = t.TLS
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to t and verifies the connection. The pool is small: a
// collection runs a handful of read-only statements.
func Open(ctx context.Context, t Target, maxConns int) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(t.DSN())
	if err != nil {
		return nil, errors.Wrapf(err, "dsn for %s", t.Label())
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "connector for %s", t.Label())
	}
	db := sql.OpenDB(connector)
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "connect %s", t.Label())
	}
	return db, nil
}

// SQLRunner is the default Runner over database/sql.
type SQLRunner struct {
	DB *sql.DB
}

// Run implements Runner.
func (r *SQLRunner) Run(ctx context.Context, query string) (*ResultSet, error) {
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "query %q", query)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "columns")
	}
	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		cells := make([]sql.RawBytes, len(cols))
		dest := make([]any, len(cols))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "scan")
		}
		row := make([]*string, len(cols))
		for i, c := range cells {
			if c != nil {
				s := string(c)
				row[i] = &s
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %q", query)
	}
	return rs, nil
}

// IsSyntaxError reports whether err is the server rejecting a statement it
// does not understand.
func IsSyntaxError(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erParseError
}

// RenderBatch renders rs the way `mysql --batch` prints it: a header line,
// then one tab-separated line per row with NULL spelled out and cell
// values escaped. An empty result renders as the empty string.
func RenderBatch(rs *ResultSet) string {
	if rs == nil || len(rs.Columns) == 0 || len(rs.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(rs.Columns, "\t"))
	b.WriteByte('\n')
	for _, row := range rs.Rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteByte('\t')
			}
			if cell == nil {
				b.WriteString("NULL")
				continue
			}
			b.WriteString(parser.EscapeBatch(*cell))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
