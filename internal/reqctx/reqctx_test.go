package reqctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID() = %q, want abc-123", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(empty) = %q, want empty", got)
	}
}

func TestLogger_DefaultsToNop(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("Logger() returned nil")
	}
	l := zap.NewExample()
	if got := Logger(WithLogger(context.Background(), l)); got != l {
		t.Error("Logger() did not return the stored logger")
	}
}
