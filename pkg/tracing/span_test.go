package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestChildSpansShareTraceID(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "reindex")
	_, crawl := StartSpan(ctx, "crawl")
	_, build := StartSpan(ctx, "build")
	crawl.End()
	build.End()
	root.End()

	if len(root.TraceID) != 32 {
		t.Errorf("trace id %q should be 32 hex chars", root.TraceID)
	}
	children := root.Children()
	if len(children) != 2 {
		t.Fatalf("children = %d, want 2", len(children))
	}
	for _, c := range children {
		if c.TraceID != root.TraceID {
			t.Errorf("child %s trace id %q, want %q", c.Name, c.TraceID, root.TraceID)
		}
	}
	if FromContext(ctx) != root {
		t.Error("FromContext should return root span")
	}
}

func TestLogWritesTree(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, root := StartSpan(context.Background(), "reindex")
	_, child := StartSpan(ctx, "persist")
	child.SetAttr("bytes", 128)
	child.SetError(errors.New("disk full"))
	child.End()
	root.End()
	root.Log(logger)

	out := buf.String()
	for _, want := range []string{"span=reindex", "span=persist", "bytes=128", "depth=1", `error="disk full"`, "level=WARN"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLogDisabled(t *testing.T) {
	SetEnabled(false)
	var buf bytes.Buffer
	_, root := StartSpan(context.Background(), "reindex")
	root.End()
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
