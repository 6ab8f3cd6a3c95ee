package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// dialect carries what differs between the database/sql engines.
type dialect struct {
	driver string
	schema string
	upsert string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS t_Employee (
			Employee_ID INTEGER PRIMARY KEY,
			Employee_Name TEXT NOT NULL
		)`,
		upsert: `INSERT INTO t_Employee (Employee_ID, Employee_Name) VALUES (?, ?)
			ON CONFLICT(Employee_ID) DO UPDATE SET Employee_Name = excluded.Employee_Name`,
	}
	mysqlDialect = dialect{
		driver: "mysql",
		schema: `CREATE TABLE IF NOT EXISTS t_Employee (
			Employee_ID INT PRIMARY KEY,
			Employee_Name VARCHAR(255) NOT NULL
		)`,
		upsert: `INSERT INTO t_Employee (Employee_ID, Employee_Name) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE Employee_Name = VALUES(Employee_Name)`,
	}
)

// SQL is a database/sql backed directory.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLite opens the sqlite file at path. The driver creates the file when
// it is missing; Open guards against that for readers.
func NewSQLite(ctx context.Context, path string) (*SQL, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	return openSQL(ctx, sqliteDialect, path)
}

// NewMySQL opens a MySQL/MariaDB directory; dsn is in go-sql-driver form.
func NewMySQL(ctx context.Context, dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("MySQL DSN is required")
	}
	return openSQL(ctx, mysqlDialect, dsn)
}

func openSQL(ctx context.Context, d dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.driver, err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", d.driver, err)
	}
	return &SQL{db: db, dialect: d}, nil
}

// Migrate creates the table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return nil
}

// Names reads every row.
func (s *SQL) Names(ctx context.Context) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT Employee_ID, Employee_Name FROM t_Employee ORDER BY Employee_ID")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[int]string)
	for rows.Next() {
		var id int
		var name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name.String
	}
	return names, rows.Err()
}

// SetName inserts or renames the row for label.
func (s *SQL) SetName(ctx context.Context, label int, name string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, label, name)
	return err
}

// Reset deletes every row.
func (s *SQL) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM t_Employee")
	return err
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}
