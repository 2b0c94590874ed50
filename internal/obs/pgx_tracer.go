package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pgxSpanKey struct{}

// sqlPreviewLen caps db.statement so a long order-lines join does not bloat
// span payloads.
const sqlPreviewLen = 300

// PGXTracer implements pgx.QueryTracer, emitting one span per statement.
// Both the api pool and the worker pool install it, so webhook fulfillment
// and reconcile sweeps show their queries in the same trace tree.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer("wallet.pgx").Start(ctx, spanNameForSQL(data.SQL))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", sqlPreview(data.SQL)),
	)
	return context.WithValue(ctx, pgxSpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(pgxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
	}
	span.End()
}

// spanNameForSQL names the span after the SQL verb (pgx.select, pgx.update)
// so trace search groups statements by operation.
func spanNameForSQL(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "pgx.query"
	}
	return "pgx." + strings.ToLower(fields[0])
}

func sqlPreview(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > sqlPreviewLen {
		return trimmed[:sqlPreviewLen] + "..."
	}
	return trimmed
}
