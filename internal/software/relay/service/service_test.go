package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/domain/geo"
	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/contracts"
)

func TestDriverLocationReachesPassengersAndAdmins(t *testing.T) {
	f := newFixture(t)
	driver, driverSink := f.connect("d1", user.RoleDriver)
	_, otherDriver := f.connect("d2", user.RoleDriver)
	_, passenger := f.connect("p1", user.RolePassenger)
	_, admin := f.connect("a1", user.RoleAdmin)

	ack := f.svc.HandleFrame(context.Background(), driver, frameOf(t, contracts.EventDriverLocation, "c-1",
		contracts.LocationPayload{Location: contracts.GeoPoint{Latitude: 43.2, Longitude: 76.9}, RideID: "r1"}))

	if a := ackOf(t, ack); !a.Success {
		t.Fatalf("ack = %+v", a)
	}
	if ack.CorrelationID != "c-1" {
		t.Fatalf("ack correlation id = %q", ack.CorrelationID)
	}

	for name, sink := range map[string]*recordingSink{"passenger": passenger, "admin": admin} {
		got := sink.received()
		if len(got) != 1 || got[0].Type != contracts.EventDriverLocation || got[0].CorrelationID != "c-1" {
			t.Fatalf("%s received %+v", name, got)
		}
		var p contracts.LocationPayload
		if err := json.Unmarshal(got[0].Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.EntityID != "d1" || !p.Timestamp.Equal(epoch) {
			t.Fatalf("%s payload = %+v", name, p)
		}
	}
	if len(driverSink.received()) != 0 || len(otherDriver.received()) != 0 {
		t.Fatal("drivers must not receive driver locations")
	}

	s, ok := f.locations.samples["d1"]
	if !ok || s.Role != geo.EntityTypeDriver || s.RideID != "r1" || s.Point.Lat != 43.2 {
		t.Fatalf("stored sample = %+v", s)
	}
}

func TestPassengerLocationReachesDrivers(t *testing.T) {
	f := newFixture(t)
	passenger, _ := f.connect("p1", user.RolePassenger)
	_, driver := f.connect("d1", user.RoleDriver)
	_, otherPassenger := f.connect("p2", user.RolePassenger)

	ack := f.svc.HandleFrame(context.Background(), passenger, frameOf(t, contracts.EventPassengerLocation, "c-2",
		contracts.LocationPayload{EntityID: "p1", Location: contracts.GeoPoint{Latitude: 1, Longitude: 2}}))
	if a := ackOf(t, ack); !a.Success {
		t.Fatalf("ack = %+v", a)
	}
	if len(driver.received()) != 1 || len(otherPassenger.received()) != 0 {
		t.Fatalf("driver got %d, passenger got %d", len(driver.received()), len(otherPassenger.received()))
	}
}

func TestLocationRejections(t *testing.T) {
	tests := []struct {
		name    string
		from    ws.Identity
		event   string
		payload contracts.LocationPayload
		want    error
	}{
		{
			name:  "passenger sending driver location",
			from:  ws.Identity{UserID: "p1", Role: user.RolePassenger},
			event: contracts.EventDriverLocation,
			want:  ErrForbidden,
		},
		{
			name:    "foreign entity",
			from:    ws.Identity{UserID: "d1", Role: user.RoleDriver},
			event:   contracts.EventDriverLocation,
			payload: contracts.LocationPayload{EntityID: "d2"},
			want:    ErrForbidden,
		},
		{
			name:    "latitude out of range",
			from:    ws.Identity{UserID: "d1", Role: user.RoleDriver},
			event:   contracts.EventDriverLocation,
			payload: contracts.LocationPayload{Location: contracts.GeoPoint{Latitude: 91}},
			want:    ErrInvalidPayload,
		},
		{
			name:  "not a location event",
			from:  ws.Identity{UserID: "d1", Role: user.RoleDriver},
			event: contracts.EventChat,
			want:  ErrUnsupportedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.svc.AcceptLocation(context.Background(), tt.from, tt.event, "c", tt.payload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsClientError(err) {
				t.Fatal("rejection should be a client error")
			}
			if len(f.locations.samples) != 0 || f.pub.count() != 0 {
				t.Fatal("rejected location was stored or published")
			}
		})
	}
}

func TestAdminMayReportAnyEntity(t *testing.T) {
	f := newFixture(t)
	err := f.svc.AcceptLocation(context.Background(), ws.Identity{UserID: "a1", Role: user.RoleAdmin},
		contracts.EventDriverLocation, "c", contracts.LocationPayload{EntityID: "d7"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.locations.samples["d7"]; !ok {
		t.Fatal("sample for d7 not stored")
	}
}

func TestPersistFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.locations.err = errors.New("db down")
	driver, _ := f.connect("d1", user.RoleDriver)

	ack := ackOf(t, f.svc.HandleFrame(context.Background(), driver,
		frameOf(t, contracts.EventDriverLocation, "c", contracts.LocationPayload{})))
	if ack.Success || ack.Message != "internal error" {
		t.Fatalf("ack = %+v", ack)
	}
	if f.pub.count() != 0 {
		t.Fatal("event published despite persist failure")
	}
}

func TestPublishFailureFailsTheAck(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker unreachable")
	driver, _ := f.connect("d1", user.RoleDriver)

	ack := ackOf(t, f.svc.HandleFrame(context.Background(), driver,
		frameOf(t, contracts.EventDriverLocation, "c", contracts.LocationPayload{})))
	if ack.Success {
		t.Fatal("ack should be negative when the broker rejects the event")
	}
}

func TestReplyRouting(t *testing.T) {
	tests := []struct {
		name     string
		senderID string
		role     user.Role
		event    string
		payload  contracts.ReplyPayload
		want     []string // user ids that receive it
		wantErr  error
	}{
		{
			name:     "driver reply to all passengers",
			senderID: "d1", role: user.RoleDriver,
			event:   contracts.EventDriverReply,
			payload: contracts.ReplyPayload{Message: "on my way"},
			want:    []string{"p1", "p2"},
		},
		{
			name:     "driver reply to one passenger",
			senderID: "d1", role: user.RoleDriver,
			event:   contracts.EventDriverReply,
			payload: contracts.ReplyPayload{RecipientID: "p2", Message: "on my way"},
			want:    []string{"p2"},
		},
		{
			name:     "passenger reply to drivers",
			senderID: "p1", role: user.RolePassenger,
			event:   contracts.EventPassengerReply,
			payload: contracts.ReplyPayload{InReplyTo: "m-1", Message: "thanks"},
			want:    []string{"d1", "d2"},
		},
		{
			name:     "chat to recipient",
			senderID: "p1", role: user.RolePassenger,
			event:   contracts.EventChat,
			payload: contracts.ReplyPayload{RecipientID: "d2", Message: "hi"},
			want:    []string{"d2"},
		},
		{
			name:     "chat without recipient",
			senderID: "p1", role: user.RolePassenger,
			event:   contracts.EventChat,
			payload: contracts.ReplyPayload{Message: "hi"},
			wantErr: ErrInvalidPayload,
		},
		{
			name:     "passenger sending driver reply",
			senderID: "p1", role: user.RolePassenger,
			event:   contracts.EventDriverReply,
			payload: contracts.ReplyPayload{Message: "hi"},
			wantErr: ErrForbidden,
		},
		{
			name:     "empty message",
			senderID: "d1", role: user.RoleDriver,
			event:   contracts.EventDriverReply,
			payload: contracts.ReplyPayload{Message: "   "},
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sinks := map[string]*recordingSink{}
			for id, role := range map[string]user.Role{
				"d1": user.RoleDriver, "d2": user.RoleDriver,
				"p1": user.RolePassenger, "p2": user.RolePassenger,
			} {
				_, sinks[id] = f.connect(id, role)
			}

			err := f.svc.AcceptReply(context.Background(), ws.Identity{UserID: tt.senderID, Role: tt.role}, tt.event, "c-9", tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if len(f.replies.recs) != 0 {
					t.Fatal("rejected reply was archived")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			var got []string
			for _, id := range []string{"d1", "d2", "p1", "p2"} {
				frames := sinks[id].received()
				if len(frames) == 0 {
					continue
				}
				var p contracts.ReplyPayload
				_ = json.Unmarshal(frames[0].Data, &p)
				if p.SenderID != tt.senderID || frames[0].Type != tt.event {
					t.Fatalf("%s got frame %+v", id, frames[0])
				}
				got = append(got, id)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("recipients = %v, want %v", got, tt.want)
			}

			if len(f.replies.recs) != 1 {
				t.Fatalf("archived %d replies", len(f.replies.recs))
			}
			rec := f.replies.recs[0]
			if rec.SenderID != tt.senderID || rec.CorrelationID != "c-9" || rec.Event != tt.event {
				t.Fatalf("record = %+v", rec)
			}
		})
	}
}

func TestSubscribeScopesRouteUpdates(t *testing.T) {
	f := newFixture(t)
	watcher, watcherSink := f.connect("p1", user.RolePassenger)
	_, bystander := f.connect("p2", user.RolePassenger)
	ctx := context.Background()

	ack := ackOf(t, f.svc.HandleFrame(ctx, watcher, frameOf(t, contracts.FrameSubscribe, "s-1",
		contracts.SubscribeData{Topic: contracts.RouteTopic("r1")})))
	if !ack.Success {
		t.Fatalf("subscribe ack = %+v", ack)
	}

	if _, err := f.svc.UpdateRoute(ctx, contracts.RouteUpdatePayload{RouteID: "r1", Status: "delayed"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateRoute(ctx, contracts.RouteUpdatePayload{RouteID: "r2"}); err != nil {
		t.Fatal(err)
	}

	got := watcherSink.received()
	if len(got) != 1 || got[0].Type != contracts.EventRouteUpdates {
		t.Fatalf("watcher received %+v", got)
	}
	if len(bystander.received()) != 0 {
		t.Fatal("unsubscribed session received a route update")
	}

	ackOf(t, f.svc.HandleFrame(ctx, watcher, frameOf(t, contracts.FrameUnsubscribe, "s-2",
		contracts.SubscribeData{Topic: contracts.RouteTopic("r1")})))
	_, _ = f.svc.UpdateRoute(ctx, contracts.RouteUpdatePayload{RouteID: "r1"})
	if len(watcherSink.received()) != 1 {
		t.Fatal("update delivered after unsubscribe")
	}
}

func TestSubscribeNeedsTopic(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.connect("p1", user.RolePassenger)
	ack := ackOf(t, f.svc.HandleFrame(context.Background(), sess,
		frameOf(t, contracts.FrameSubscribe, "s", contracts.SubscribeData{})))
	if ack.Success {
		t.Fatal("empty topic accepted")
	}
}

func TestUnknownFrameIsNegativelyAcked(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.connect("p1", user.RolePassenger)
	ack := ackOf(t, f.svc.HandleFrame(context.Background(), sess, contracts.Frame{Type: "teleport", CorrelationID: "x"}))
	if ack.Success || !strings.Contains(ack.Message, "unsupported") {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestNotifyTargetsOneUser(t *testing.T) {
	f := newFixture(t)
	_, target := f.connect("p1", user.RolePassenger)
	_, other := f.connect("p2", user.RolePassenger)

	out, err := f.svc.Notify(context.Background(), contracts.EventNewNotification,
		contracts.NotificationPayload{UserID: "p1", Title: "Driver arrived"})
	if err != nil {
		t.Fatal(err)
	}
	if out.ID == "" || !out.CreatedAt.Equal(epoch) {
		t.Fatalf("payload not normalized: %+v", out)
	}

	got := target.received()
	if len(got) != 1 || got[0].Type != contracts.EventNewNotification || got[0].CorrelationID != out.ID {
		t.Fatalf("target received %+v", got)
	}
	if len(other.received()) != 0 {
		t.Fatal("notification leaked to another user")
	}
}

func TestNotifyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Notify(ctx, "", contracts.NotificationPayload{Title: "x"}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("missing user_id: %v", err)
	}
	if _, err := f.svc.Notify(ctx, "", contracts.NotificationPayload{UserID: "u"}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("missing title: %v", err)
	}
	if _, err := f.svc.Notify(ctx, contracts.EventBroadcast, contracts.NotificationPayload{UserID: "u", Title: "x"}); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("wrong event: %v", err)
	}
	if _, err := f.svc.UpdateRoute(ctx, contracts.RouteUpdatePayload{}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("missing route id: %v", err)
	}
}

func TestBroadcastReachesEveryone(t *testing.T) {
	f := newFixture(t)
	var sinks []*recordingSink
	for id, role := range map[string]user.Role{"d1": user.RoleDriver, "p1": user.RolePassenger, "a1": user.RoleAdmin} {
		_, s := f.connect(id, role)
		sinks = append(sinks, s)
	}

	if _, err := f.svc.Broadcast(context.Background(), contracts.NotificationPayload{ID: "b-1", UserID: "ignored", Title: "Service notice"}); err != nil {
		t.Fatal(err)
	}
	for _, s := range sinks {
		got := s.received()
		if len(got) != 1 || got[0].Type != contracts.EventBroadcast {
			t.Fatalf("received %+v", got)
		}
		var p contracts.NotificationPayload
		_ = json.Unmarshal(got[0].Data, &p)
		if p.ID != "b-1" || p.UserID != "" {
			t.Fatalf("payload = %+v", p)
		}
	}
}

func TestConsumerRejectsMalformedMessages(t *testing.T) {
	f := newFixture(t)
	if err := f.pub.consumer.Handle(context.Background(), []byte("{")); err == nil {
		t.Fatal("malformed body accepted")
	}
	if err := f.pub.consumer.Handle(context.Background(), []byte(`{"data":{}}`)); err == nil {
		t.Fatal("message without event accepted")
	}
}
