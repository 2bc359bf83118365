package db

import "context"

// Database is a pooled SQL database handle.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, rolling back when fn fails.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is an in-flight database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Scanner is implemented by Row and Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Row is the result of QueryRow.
type Row interface {
	Scanner
}

// Rows is a forward-only cursor over query results.
type Rows interface {
	Scanner
	Next() bool
	Close() error
	Err() error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
