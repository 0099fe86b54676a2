package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"transit-sync/internal/general/contracts"
	"transit-sync/internal/realtime"
)

func TestSendLocation(t *testing.T) {
	var got contracts.LocationRequest
	var auth, corr string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/locations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth, corr = r.Header.Get("Authorization"), r.Header.Get("X-Correlation-ID")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(contracts.AckData{Success: true, Message: "stored"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: func() string { return "tok" }})
	payload, _ := json.Marshal(contracts.LocationPayload{EntityID: "D1", Location: contracts.GeoPoint{Latitude: 1, Longitude: 2}})
	ack, err := c.Send(context.Background(), realtime.Message{Event: contracts.EventDriverLocation, Payload: payload, CorrelationID: "op-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !ack.Success || ack.Message != "stored" {
		t.Fatalf("ack = %+v", ack)
	}
	if got.Event != contracts.EventDriverLocation || got.EntityID != "D1" || got.Location.Longitude != 2 {
		t.Fatalf("request = %+v", got)
	}
	if auth != "Bearer tok" || corr != "op-1" {
		t.Fatalf("headers = %q %q", auth, corr)
	}
}

func TestSendReplyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/replies" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(contracts.AckData{Success: true, Message: "message is empty"})
	}))
	defer srv.Close()

	payload, _ := json.Marshal(contracts.ReplyPayload{InReplyTo: "m1"})
	ack, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), realtime.Message{Event: contracts.EventDriverReply, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if ack.Success {
		t.Fatal("4xx must never count as success")
	}
}

func TestSendServerErrorAndUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL})

	payload, _ := json.Marshal(contracts.ReplyPayload{RecipientID: "P1", Message: "hi"})
	if _, err := c.Send(context.Background(), realtime.Message{Event: contracts.EventChat, Payload: payload}); err == nil {
		t.Fatal("5xx should be an error")
	}
	if _, err := c.Send(context.Background(), realtime.Message{Event: contracts.EventBroadcast}); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("err = %v, want ErrUnsupportedEvent", err)
	}
}

func TestSendReplyKeepsOpaqueMetadata(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(contracts.AckData{Success: true})
	}))
	defer srv.Close()

	payload := json.RawMessage(`{"recipient_id":"P1","message":"on my way","metadata":{"seat":3,"priority":true,"stop":{"id":"S9"}}}`)
	ack, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), realtime.Message{Event: contracts.EventChat, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if !ack.Success {
		t.Fatalf("ack = %+v", ack)
	}
	meta, _ := got["metadata"].(map[string]any)
	if meta["seat"] != float64(3) || meta["priority"] != true {
		t.Fatalf("metadata = %v", got["metadata"])
	}
	if stop, _ := meta["stop"].(map[string]any); stop["id"] != "S9" {
		t.Fatalf("nested metadata = %v", meta["stop"])
	}
}

func TestSendMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("malformed payload reached the relay")
	}))
	defer srv.Close()

	payload := json.RawMessage(`{"recipient_id":"P1","message":"hi","metadata":"not-an-object"}`)
	_, err := New(Config{BaseURL: srv.URL}).Send(context.Background(), realtime.Message{Event: contracts.EventChat, Payload: payload})
	if !errors.Is(err, realtime.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
