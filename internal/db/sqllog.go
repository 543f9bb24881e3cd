package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// tracingConnector opens sqlite3 connections whose statements are logged at
// debug level with their arguments, duration and error.
type tracingConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
	logger *slog.Logger
}

// NewTracingConnector returns a connector for sql.OpenDB. A nil logger uses
// slog.Default().
func NewTracingConnector(dsn string, logger *slog.Logger) driver.Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &tracingConnector{dsn: dsn, driver: &sqlite3.SQLiteDriver{}, logger: logger}
}

func (c *tracingConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &tracingConn{Conn: conn, logger: c.logger}, nil
}

func (c *tracingConnector) Driver() driver.Driver {
	return refuseOpen{}
}

type refuseOpen struct{}

func (refuseOpen) Open(string) (driver.Conn, error) {
	return nil, errors.New("tracing sqlite driver: open through sql.OpenDB(NewTracingConnector(...))")
}

// tracingConn leaves ExecerContext and QueryerContext unimplemented so
// database/sql routes every statement through PrepareContext.
type tracingConn struct {
	driver.Conn
	logger *slog.Logger
}

func (c *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		c.logger.Debug("sql prepare failed", "sql", query, "error", err)
		return nil, err
	}
	return &tracingStmt{Stmt: stmt, query: query, logger: c.logger}, nil
}

func (c *tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019 fallback for drivers without ConnBeginTx
	return c.Conn.Begin()
}

type tracingStmt struct {
	driver.Stmt
	query  string
	logger *slog.Logger
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = e.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019 fallback for statements without StmtExecContext
		res, err = s.Stmt.Exec(plainValues(args))
	}
	s.trace("exec", args, start, err)
	return res, err
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019 fallback for statements without StmtQueryContext
		rows, err = s.Stmt.Query(plainValues(args))
	}
	s.trace("query", args, start, err)
	return rows, err
}

func (s *tracingStmt) trace(op string, args []driver.NamedValue, start time.Time, err error) {
	attrs := []any{
		"op", op,
		"sql", s.query,
		"args", renderArgs(args),
		"elapsed", time.Since(start),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Debug("sql", attrs...)
}

func plainValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func renderArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		var v string
		switch t := a.Value.(type) {
		case nil:
			v = "NULL"
		case []byte:
			v = fmt.Sprintf("<%d bytes>", len(t))
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}
