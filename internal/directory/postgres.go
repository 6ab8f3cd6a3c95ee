package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Postgres manages the PostgreSQL connection.
type Postgres struct {
	conn *pgx.Conn
}

// NewPostgres establishes a connection to the database.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &Postgres{conn: conn}, nil
}

// Migrate creates the table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS t_Employee (
			Employee_ID INTEGER PRIMARY KEY,
			Employee_Name TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return nil
}

// Names reads every row.
func (p *Postgres) Names(ctx context.Context) (map[int]string, error) {
	rows, err := p.conn.Query(ctx, "SELECT Employee_ID, Employee_Name FROM t_Employee ORDER BY Employee_ID")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[int]string)
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// SetName inserts or renames the row for label.
func (p *Postgres) SetName(ctx context.Context, label int, name string) error {
	_, err := p.conn.Exec(ctx, `
		INSERT INTO t_Employee (Employee_ID, Employee_Name)
		VALUES ($1, $2)
		ON CONFLICT (Employee_ID) DO UPDATE SET Employee_Name = EXCLUDED.Employee_Name
	`, label, name)
	return err
}

// Reset deletes every row.
func (p *Postgres) Reset(ctx context.Context) error {
	_, err := p.conn.Exec(ctx, "DELETE FROM t_Employee")
	return err
}

// Close terminates the database connection.
func (p *Postgres) Close() error {
	return p.conn.Close(context.Background())
}
