package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Init(&buf, slog.LevelInfo, "json")
	l.Info("order created", "user_id", int64(7))
	Infof("reserved %d", 3)
	l.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, `"msg":"order created"`) || !strings.Contains(out, `"user_id":7`) {
		t.Fatalf("expected json record, got %s", out)
	}
	if !strings.Contains(out, "reserved 3") {
		t.Fatalf("expected formatted record, got %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug record to be filtered")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "flash-sale", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected noop shutdown, got %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestSnapshot(t *testing.T) {
	before := Snapshot()["orders_created"]
	Metrics.OrdersCreated.Inc()
	if got := Snapshot()["orders_created"]; got != before+1 {
		t.Fatalf("expected %d, got %d", before+1, got)
	}
}
