package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harun/agentcore/pkg/capability"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// DatabaseQueryName is the registry name of the database query capability.
const DatabaseQueryName = "database_query"

const queryDisplayRows = 20

// DatabaseSettings names a database/sql driver and DSN.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Databases holds one connection pool per configured database name.
type Databases struct {
	pools   map[string]*sql.DB
	timeout time.Duration
}

var driverAliases = map[string]string{
	"sqlite":     "sqlite3",
	"sqlite3":    "sqlite3",
	"pgx":        "pgx",
	"postgres":   "pgx",
	"postgresql": "pgx",
}

// OpenDatabases opens a pool per entry. Connections are established lazily.
// timeout bounds each statement; zero disables the bound.
func OpenDatabases(settings map[string]DatabaseSettings, timeout time.Duration) (*Databases, error) {
	d := &Databases{pools: make(map[string]*sql.DB, len(settings)), timeout: timeout}

	for name, s := range settings {
		driver, ok := driverAliases[strings.ToLower(s.Driver)]
		if !ok {
			d.Close()
			return nil, fmt.Errorf("database %s: unsupported driver %q", name, s.Driver)
		}
		if s.DSN == "" {
			d.Close()
			return nil, fmt.Errorf("database %s: dsn is required", name)
		}

		db, err := sql.Open(driver, s.DSN)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("database %s: %w", name, err)
		}
		d.pools[name] = db
	}

	return d, nil
}

// DB returns the pool registered under name.
func (d *Databases) DB(name string) (*sql.DB, bool) {
	db, ok := d.pools[name]
	return db, ok
}

// Names returns configured database names in sorted order.
func (d *Databases) Names() []string {
	names := make([]string, 0, len(d.pools))
	for name := range d.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every pool.
func (d *Databases) Close() error {
	var errs []error
	for _, db := range d.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewDatabaseQuery returns the database query capability over dbs.
func NewDatabaseQuery(dbs *Databases) (capability.Descriptor, error) {
	if dbs == nil || len(dbs.pools) == 0 {
		return capability.Descriptor{}, fmt.Errorf("at least one database must be configured")
	}

	return capability.Descriptor{
		Name:        DatabaseQueryName,
		Description: fmt.Sprintf("Execute a SQL query against a configured database (%s) and return the results as a table.", strings.Join(dbs.Names(), ", ")),
		Parameters: []capability.Parameter{
			{Name: "sql", Type: "string", Description: "SQL query to execute", Required: true},
			{Name: "database", Type: "string", Description: "Database name", Default: "default"},
		},
		Handler: func(ctx context.Context, in capability.Input) (string, error) {
			return dbs.Query(ctx, in.String("database"), in.String("sql"))
		},
	}, nil
}

// Query runs statement against the named database and formats the outcome.
func (d *Databases) Query(ctx context.Context, name, statement string) (string, error) {
	if name == "" {
		name = "default"
	}
	db, ok := d.pools[name]
	if !ok {
		return "", capability.Failuref("Error: unknown database '%s'", name)
	}
	if strings.TrimSpace(statement) == "" {
		return "", capability.Failuref("Invalid SQL query: empty statement")
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if !returnsRows(statement) {
		res, err := db.ExecContext(ctx, statement)
		if err != nil {
			return "", queryFailure(ctx, err)
		}
		affected, _ := res.RowsAffected()
		if affected > 0 {
			return fmt.Sprintf("Query executed successfully. %d row(s) affected.", affected), nil
		}
		return "Query executed successfully. No results returned.", nil
	}

	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return "", queryFailure(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", queryFailure(ctx, err)
	}

	var (
		lines []string
		total int
	)
	for rows.Next() {
		total++
		if total > queryDisplayRows {
			continue
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", queryFailure(ctx, err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatCell(v)
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	if err := rows.Err(); err != nil {
		return "", queryFailure(ctx, err)
	}

	if total == 0 {
		return "Query executed successfully. No results returned.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query returned %d row(s):\n\n", total)
	header := strings.Join(columns, " | ")
	sb.WriteString(header + "\n")
	sb.WriteString(strings.Repeat("-", len(header)) + "\n")
	for _, line := range lines {
		sb.WriteString(line + "\n")
	}
	if total > queryDisplayRows {
		fmt.Fprintf(&sb, "\n... and %d more row(s)", total-queryDisplayRows)
	}

	return sb.String(), nil
}

var rowKeywords = []string{"SELECT", "WITH", "PRAGMA", "SHOW", "EXPLAIN", "VALUES", "DESCRIBE", "TABLE"}

func returnsRows(statement string) bool {
	s := strings.TrimLeft(statement, " \t\r\n(")
	upper := strings.ToUpper(s)
	for _, kw := range rowKeywords {
		if strings.HasPrefix(upper, kw) && (len(upper) == len(kw) || !isIdentByte(upper[len(kw)])) {
			return true
		}
	}
	// Data-modifying statements with RETURNING also yield rows.
	return strings.Contains(upper, " RETURNING ")
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func queryFailure(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return capability.Failuref("Query timed out. Try simplifying your query or adding appropriate indexes.")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "57014" {
			return capability.Failuref("Query timed out. Try simplifying your query or adding appropriate indexes.")
		}
		return capability.Failuref("Invalid SQL query: %s", pgErr.Message)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return capability.Failuref("Invalid SQL query: %v", liteErr)
	}

	return capability.Failuref("Error executing database query: %v", err)
}
