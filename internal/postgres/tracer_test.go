package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

// recordingTracer verifies the wrapper forwards to its inner tracer.
type recordingTracer struct {
	started, ended int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.started++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(_ context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	r.ended++
}

func TestWrapQueryTracerForwardsToInner(t *testing.T) {
	t.Parallel()

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner)

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	if inner.started != 1 || inner.ended != 1 {
		t.Errorf("inner tracer saw start=%d end=%d, want 1 and 1", inner.started, inner.ended)
	}
}

func TestWrapQueryTracerNilInner(t *testing.T) {
	t.Parallel()

	tr := wrapQueryTracer(nil)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	if got, ok := ctx.Value(ctxKeySQL).(string); !ok || got != "SELECT 1" {
		t.Errorf("ctx sql = %q, want %q", got, "SELECT 1")
	}
}
