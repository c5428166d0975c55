package otel

import (
	"context"
	"errors"
	"testing"
)

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected service name to be required")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "recyclerd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := Tracer("test").Start(context.Background(), "noop")
	span.End()
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,bad, =skip,x=1=2")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["x"] != "1=2" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestStackShutdownRunsInReverse(t *testing.T) {
	var order []int
	s := stack{
		func(context.Context) error { order = append(order, 1); return nil },
		func(context.Context) error { order = append(order, 2); return errors.New("flush failed") },
	}
	if err := s.shutdown(context.Background()); err == nil {
		t.Fatalf("expected shutdown error")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected order %v", order)
	}
}
