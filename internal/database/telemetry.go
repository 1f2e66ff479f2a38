package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/irfndi/celebrum-pricesync/internal/database"

// maxStatementLen bounds the SQL recorded on spans; batch upserts are long.
const maxStatementLen = 512

// TracedPool wraps a DatabasePool with one client span per statement.
type TracedPool struct {
	pool   DatabasePool
	tracer trace.Tracer
}

// NewTracedPool wraps pool using the global tracer provider.
func NewTracedPool(pool DatabasePool) *TracedPool {
	return &TracedPool{pool: pool, tracer: otel.Tracer(tracerName)}
}

func (p *TracedPool) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", statementVerb(sql)),
			attribute.String("db.statement", truncateStatement(sql)),
		),
	)
}

// Query executes a query that returns rows.
func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := p.start(ctx, "query", sql)
	defer span.End()

	rows, err := p.pool.Query(ctx, sql, args...)
	RecordDatabaseError(span, err)
	return rows, err
}

// QueryRow executes a query expected to return at most one row. Scan errors
// are not visible here, so the span only covers dispatch.
func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := p.start(ctx, "query_row", sql)
	defer span.End()
	return p.pool.QueryRow(ctx, sql, args...)
}

// Exec executes a statement without returning rows.
func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := p.start(ctx, "exec", sql)
	defer span.End()

	tag, err := p.pool.Exec(ctx, sql, args...)
	if err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	}
	RecordDatabaseError(span, err)
	return tag, err
}

// RecordDatabaseError marks span as failed when err is set.
func RecordDatabaseError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func truncateStatement(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > maxStatementLen {
		return sql[:maxStatementLen] + "..."
	}
	return sql
}
