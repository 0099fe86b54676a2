package codec

import (
	"bytes"
	"testing"
	"time"
)

type record struct {
	Event      string    `cbor:"event"`
	Payload    []byte    `cbor:"payload"`
	EnqueuedAt time.Time `cbor:"enqueued_at"`
	Attempts   int       `cbor:"attempts,omitempty"`
}

func TestEncodingIsDeterministic(t *testing.T) {
	a := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	b := map[string]int{"mid": 3, "alpha": 2, "zeta": 1}

	encA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	encB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(encA, encB) {
		t.Fatal("equal maps encoded to different bytes")
	}
}

func TestRecordSurvivesRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	in := record{Event: "driver_location", Payload: []byte(`{"lat":1}`), EnqueuedAt: at, Attempts: 2}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Event != in.Event || !bytes.Equal(out.Payload, in.Payload) || out.Attempts != 2 {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if !out.EnqueuedAt.Equal(at) {
		t.Fatalf("time lost precision: got %v, want %v", out.EnqueuedAt, at)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"event": "chat", "future_field": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out record
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Event != "chat" {
		t.Fatalf("event = %q", out.Event)
	}
}
