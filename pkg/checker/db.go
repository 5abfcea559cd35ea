package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/xo/dburl"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second

	defaultMySQLPort = 3306
)

type dbDetails struct {
	Name     string         `json:"name"`
	Query    string         `json:"query,omitempty"`
	RowCount *int           `json:"rowcount,omitempty"`
	Sample   map[string]any `json:"sample,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// NewDBCheck creates a Check which connects to the configured database, runs
// one query, and compares the result against def's expectations.
func NewDBCheck(def check.Definition) (check.Check, error) {
	// All of this only gets done once.
	if def.Query == "" && def.Table == "" {
		return nil, errors.New("db check requires query or table")
	}
	if def.Query != "" && def.Table != "" {
		return nil, errors.New("query and table are mutually exclusive")
	}
	driverName, dsn, err := buildDSN(def)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) check.Result {
		d := dbDetails{Name: def.Name, Query: def.Query}
		start := time.Now()
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			d.Error = err.Error()
			return dbResult(def, check.StatusError, time.Since(start), d)
		}
		defer db.Close()
		db.SetMaxOpenConns(1)
		// Open() only inits the config & pool, do a Ping() to establish/validate a connection.
		if err := db.PingContext(ctx); err != nil {
			d.Error = err.Error()
			return dbResult(def, check.StatusError, time.Since(start), d)
		}
		rowcount, sample, firstValue, err := runQuery(ctx, db, driverName, def)
		latency := time.Since(start)
		if err != nil {
			d.Error = err.Error()
			return dbResult(def, check.StatusError, latency, d)
		}
		d.RowCount = &rowcount
		d.Sample = sample
		if rowcount < def.MinRows() {
			d.Error = fmt.Sprintf("expected at least %d rows, got %d", def.MinRows(), rowcount)
			return dbResult(def, check.StatusFail, latency, d)
		}
		if def.ExpectValue != "" {
			switch {
			case firstValue == nil:
				d.Error = fmt.Sprintf("expected value %q but the query returned no rows", def.ExpectValue)
				return dbResult(def, check.StatusFail, latency, d)
			case *firstValue != def.ExpectValue:
				d.Error = fmt.Sprintf("expected value %q, got %q", def.ExpectValue, *firstValue)
				return dbResult(def, check.StatusFail, latency, d)
			}
		}
		return dbResult(def, check.StatusPass, latency, d)
	}, nil
}

func dbResult(def check.Definition, status check.Status, latency time.Duration, d dbDetails) check.Result {
	return check.Result{
		Name:      def.Name,
		Component: check.KindDB,
		Status:    status,
		LatencyMS: latency.Milliseconds(),
		Details:   check.DetailString(d),
	}
}

// buildDSN maps def onto a registered database/sql driver and its DSN.
func buildDSN(def check.Definition) (string, string, error) {
	if def.URL == "" {
		return mysqlDSNFromFields(def)
	}
	u, err := dburl.Parse(def.URL)
	if err != nil {
		return "", "", fmt.Errorf("parsing database url: %w", err)
	}
	switch u.Driver {
	case "mysql":
		dsn, err := mysqlDSN(u.DSN, def.CACert)
		if err != nil {
			return "", "", err
		}
		return "mysql", dsn, nil
	case "postgres":
		return "pgx", u.DSN, nil
	case "sqlite3":
		return "sqlite3", u.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", u.Driver)
	}
}

// mysqlDSN applies the TLS and timeout conventions to a generated DSN.
func mysqlDSN(dsn, cert string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parsing mysql dsn: %w", err)
	}
	sslMode := cfg.Params["ssl-mode"]
	delete(cfg.Params, "ssl-mode")
	tlsMode := "true"
	if cert != "" {
		tlsMode, err = registerMySQLCertificate(cert)
		if err != nil {
			return "", fmt.Errorf("loading TLS cert: %w", err)
		}
	}
	if cert != "" || strings.EqualFold(sslMode, "required") {
		cfg.TLSConfig = tlsMode
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return cfg.FormatDSN(), nil
}

// mysqlDSNFromFields builds a MySQL DSN from the discrete host/user fields.
func mysqlDSNFromFields(def check.Definition) (string, string, error) {
	if def.Host == "" || def.Database == "" {
		return "", "", errors.New("db check requires url, or host and database")
	}
	port := def.Port
	if port == 0 {
		port = defaultMySQLPort
	}
	cfg := mysql.NewConfig()
	cfg.User = def.User
	cfg.Passwd = def.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(def.Host, strconv.Itoa(port))
	cfg.DBName = def.Database
	cfg.ParseTime = true
	cfg.Timeout = defaultConnectTimeout
	cfg.ReadTimeout = defaultReadTimeout
	cfg.WriteTimeout = defaultWriteTimeout
	if def.CACert != "" {
		tlsMode, err := registerMySQLCertificate(def.CACert)
		if err != nil {
			return "", "", fmt.Errorf("loading TLS cert: %w", err)
		}
		cfg.TLSConfig = tlsMode
	}
	return "mysql", cfg.FormatDSN(), nil
}

// mysqlConfigID ensures any certificates registered against the driver are given a unique name.
var mysqlConfigID = 1

func registerMySQLCertificate(cert string) (string, error) {
	rootCertPool := x509.NewCertPool()
	pem := []byte(cert)
	if strings.HasPrefix(cert, "/") {
		var err error
		pem, err = os.ReadFile(cert)
		if err != nil {
			return "", err
		}
	}
	if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
		return "", errors.New("appending certificate to pool")
	}

	mysqlConfigName := fmt.Sprintf("custom%d", mysqlConfigID)
	mysqlConfigID++
	mysql.RegisterTLSConfig(mysqlConfigName, &tls.Config{
		RootCAs: rootCertPool,
	})
	return mysqlConfigName, nil
}

// runQuery executes either the raw query or the COUNT built from table and
// where, and reports the row count, a first-row sample, and the first value.
func runQuery(ctx context.Context, db *sql.DB, driverName string, def check.Definition) (int, map[string]any, *string, error) {
	if def.Table != "" {
		return runCountQuery(ctx, db, driverName, def)
	}

	rows, err := db.QueryContext(ctx, def.Query)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("running query: %w", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading columns: %w", err)
	}
	var rowcount int
	var sample map[string]any
	var firstValue *string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, nil, nil, fmt.Errorf("scanning row: %w", err)
		}
		if rowcount == 0 && len(cols) > 0 {
			sample = make(map[string]any, len(cols))
			for i, c := range cols {
				sample[c] = normalizeValue(vals[i])
			}
			s := stringifyValue(vals[0])
			firstValue = &s
		}
		rowcount++
	}
	if err := rows.Err(); err != nil {
		return 0, nil, nil, fmt.Errorf("reading rows: %w", err)
	}
	return rowcount, sample, firstValue, nil
}

// runCountQuery treats the COUNT value as the row count, so expect_rows_min
// and expect_value both apply to it.
func runCountQuery(ctx context.Context, db *sql.DB, driverName string, def check.Definition) (int, map[string]any, *string, error) {
	q := sq.Select("COUNT(*)").From(def.Table)
	if len(def.Where) > 0 {
		q = q.Where(sq.Eq(def.Where))
	}
	if driverName == "pgx" {
		q = q.PlaceholderFormat(sq.Dollar)
	}
	var count int
	if err := q.RunWith(db).QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, nil, nil, fmt.Errorf("counting rows in %s: %w", def.Table, err)
	}
	s := strconv.Itoa(count)
	return count, map[string]any{"count": count}, &s, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func stringifyValue(v any) string {
	v = normalizeValue(v)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
