package health

import (
	"context"
	"database/sql"
	"errors"
)

// DBChecker pings the SQL database.
type DBChecker struct {
	name string
	db   *sql.DB
}

// NewDBChecker creates a database checker reported under name.
func NewDBChecker(name string, db *sql.DB) *DBChecker {
	return &DBChecker{name: name, db: db}
}

// Name returns the checker name.
func (c *DBChecker) Name() string {
	return c.name
}

// Check verifies the database is reachable.
func (c *DBChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return errors.New("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

// Name returns the checker name.
func (c CheckFunc) Name() string {
	return c.CheckName
}

// Check runs the function.
func (c CheckFunc) Check(ctx context.Context) error {
	return c.Fn(ctx)
}
