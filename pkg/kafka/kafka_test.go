package kafka

import (
	"context"
	"testing"
)

func TestEncodeEvents(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "q", Value: map[string]int{"n": 1}},
		{Key: "r", Value: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msgs[0].Key) != "q" || string(msgs[0].Value) != `{"n":1}` {
		t.Errorf("msg0 = %s %s", msgs[0].Key, msgs[0].Value)
	}
	if string(msgs[1].Value) != `["A"]` {
		t.Errorf("msg1 value = %s", msgs[1].Value)
	}
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	if _, err := encode([]Event{{Key: "bad", Value: make(chan int)}}); err == nil {
		t.Error("expected marshal error")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Type string `json:"type"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"type":"search"}`))
	if err != nil || got.Type != "search" {
		t.Errorf("DecodeJSON = %+v, %v", got, err)
	}
	if _, err := DecodeJSON[payload]([]byte(`{`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestPingNoBrokers(t *testing.T) {
	if err := Ping(context.Background(), nil); err == nil {
		t.Error("expected error with no brokers")
	}
}
