// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/portolan-project/portolan/internal/delta"
	"github.com/portolan-project/portolan/internal/models"
	"github.com/portolan-project/portolan/internal/store"
	"github.com/portolan-project/portolan/internal/viewport"
)

func newTestHub() (*Hub, *viewport.Registry, *delta.Tracker) {
	viewports := viewport.NewRegistry(0)
	deltas := delta.NewTracker(0)
	return NewHub(viewports, deltas), viewports, deltas
}

// addTestClient registers a client directly, bypassing the websocket
// upgrade. Its send channel is readable by the test.
func addTestClient(h *Hub, connID string) *Client {
	c := NewClient(h, nil, connID, AnonymousSubject)
	h.add(c)
	return c
}

func drain(c *Client) []ServerMessage {
	var out []ServerMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func messagesOfType(msgs []ServerMessage, typ string) []ServerMessage {
	var out []ServerMessage
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func sample(kind models.AssetKind, id string, lat, lon float64, ts time.Time) models.PositionSample {
	return models.PositionSample{Kind: kind, ID: id, Lat: lat, Lon: lon, Timestamp: ts}
}

func TestSchedulerDeliversOnlyToContainingViewport(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	snapshot := store.NewSnapshot()
	sched := NewScheduler(hub, snapshot, viewports, deltas, 0)

	// Two clients whose viewports share spatial cells but only one bbox
	// contains the object.
	inside := addTestClient(hub, "conn-inside")
	outside := addTestClient(hub, "conn-outside")
	viewports.Set(inside.connID, models.BoundingBox{MinLon: 10, MinLat: 50, MaxLon: 12, MaxLat: 52})
	viewports.Set(outside.connID, models.BoundingBox{MinLon: 10, MinLat: 52.5, MaxLon: 12, MaxLat: 54})

	now := time.Now().UTC()
	snapshot.Upsert(sample(models.KindAircraft, "AC1", 51.0, 11.0, now))

	sched.tick(now)

	if got := messagesOfType(drain(inside), EventAircraftPosition); len(got) != 1 {
		t.Errorf("inside viewport got %d position events, want 1", len(got))
	}
	if got := messagesOfType(drain(outside), EventAircraftPosition); len(got) != 0 {
		t.Errorf("outside viewport got %d position events, want 0", len(got))
	}
}

func TestSchedulerSuppressesUnmovedThenResends(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	snapshot := store.NewSnapshot()
	sched := NewScheduler(hub, snapshot, viewports, deltas, 0)

	client := addTestClient(hub, "conn-1")
	viewports.Set(client.connID, models.BoundingBox{MinLon: -1, MinLat: -1, MaxLon: 1, MaxLat: 1})

	now := time.Now().UTC()
	snapshot.Upsert(sample(models.KindVessel, "V1", 0.5, 0.5, now))

	sched.tick(now)
	if got := messagesOfType(drain(client), EventVesselPosition); len(got) != 1 {
		t.Fatalf("first tick delivered %d events, want 1", len(got))
	}

	// Unmoved object: second tick is suppressed.
	sched.tick(now.Add(3 * time.Second))
	if got := messagesOfType(drain(client), EventVesselPosition); len(got) != 0 {
		t.Errorf("unmoved object re-sent %d times", len(got))
	}

	// Moved well past the threshold: delivered again.
	snapshot.Upsert(sample(models.KindVessel, "V1", 0.51, 0.5, now.Add(6*time.Second)))
	sched.tick(now.Add(6 * time.Second))
	if got := messagesOfType(drain(client), EventVesselPosition); len(got) != 1 {
		t.Errorf("moved object delivered %d times, want 1", len(got))
	}
}

func TestSchedulerAppliesFreshnessPerKind(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	snapshot := store.NewSnapshot()
	sched := NewScheduler(hub, snapshot, viewports, deltas, 0)

	client := addTestClient(hub, "conn-1")
	viewports.Set(client.connID, models.BoundingBox{MinLon: -10, MinLat: -10, MaxLon: 10, MaxLat: 10})

	now := time.Now().UTC()
	// Aircraft go stale after 2h; vessels after 24h. A 3h-old position keeps
	// a vessel on the map but drops an aircraft.
	old := now.Add(-3 * time.Hour)
	snapshot.Upsert(sample(models.KindAircraft, "AC1", 1, 1, old))
	snapshot.Upsert(sample(models.KindVessel, "V1", 2, 2, old))

	sched.tick(now)
	msgs := drain(client)
	if got := messagesOfType(msgs, EventAircraftPosition); len(got) != 0 {
		t.Errorf("stale aircraft delivered %d times, want 0", len(got))
	}
	if got := messagesOfType(msgs, EventVesselPosition); len(got) != 1 {
		t.Errorf("fresh-enough vessel delivered %d times, want 1", len(got))
	}
}

func TestDisconnectClearsViewportAndDeltaState(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	client := addTestClient(hub, "conn-1")
	hub.Join(client, kindRoom(models.KindAircraft))
	viewports.Set(client.connID, models.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1})
	deltas.RecordSent(client.connID, "aircraft:AC1", 0.5, 0.5, time.Now())

	hub.remove(client)

	if _, ok := viewports.Get(client.connID); ok {
		t.Error("viewport subscription survived disconnect")
	}
	if deltas.Connections() != 0 {
		t.Error("delta state survived disconnect")
	}
	if hub.ClientCount() != 0 {
		t.Error("client still counted after disconnect")
	}
	if len(hub.RoomMembers(kindRoom(models.KindAircraft))) != 0 {
		t.Error("room membership survived disconnect")
	}
}

func TestHubBroadcastRoomIsScoped(t *testing.T) {
	t.Parallel()

	hub, _, _ := newTestHub()
	a := addTestClient(hub, "conn-a")
	b := addTestClient(hub, "conn-b")
	hub.Join(a, kindRoom(models.KindAircraft))
	hub.Join(b, kindRoom(models.KindVessel))

	sent := hub.BroadcastRoom(kindRoom(models.KindAircraft), ServerMessage{Type: EventNewAircraft})
	if sent != 1 {
		t.Fatalf("room broadcast reached %d clients, want 1", sent)
	}
	if got := drain(a); len(got) != 1 {
		t.Errorf("room member got %d messages, want 1", len(got))
	}
	if got := drain(b); len(got) != 0 {
		t.Errorf("non-member got %d messages, want 0", len(got))
	}
}

func TestPumpDeliversOncePerConnection(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	pump := NewPump(hub, nil, viewports, deltas)

	// One client subscribed to the kind room AND holding a containing
	// viewport: both paths match, the event must arrive once.
	client := addTestClient(hub, "conn-1")
	hub.Join(client, kindRoom(models.KindAircraft))
	viewports.Set(client.connID, models.BoundingBox{MinLon: 10, MinLat: 50, MaxLon: 12, MaxLat: 52})

	update := models.PositionUpdate{
		Kind:     models.KindAircraft,
		Position: sample(models.KindAircraft, "AC1", 51, 11, time.Now().UTC()),
	}
	payload, err := marshalForTest(update)
	if err != nil {
		t.Fatal(err)
	}
	pump.handlePosition(models.KindAircraft, payload)

	if got := messagesOfType(drain(client), EventAircraftPosition); len(got) != 1 {
		t.Fatalf("dual-path client got %d events, want exactly 1", len(got))
	}
}

func TestPushRecordsSendSoTickDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	snapshot := store.NewSnapshot()
	pump := NewPump(hub, nil, viewports, deltas)
	sched := NewScheduler(hub, snapshot, viewports, deltas, 0)

	client := addTestClient(hub, "conn-1")
	viewports.Set(client.connID, models.BoundingBox{MinLon: 10, MinLat: 50, MaxLon: 12, MaxLat: 52})

	now := time.Now().UTC()
	pos := sample(models.KindAircraft, "AC1", 51, 11, now)
	snapshot.Upsert(pos)

	payload, err := marshalForTest(models.PositionUpdate{Kind: models.KindAircraft, Position: pos})
	if err != nil {
		t.Fatal(err)
	}
	pump.handlePosition(models.KindAircraft, payload)
	sched.tick(now)

	if got := messagesOfType(drain(client), EventAircraftPosition); len(got) != 1 {
		t.Fatalf("push + tick delivered %d events for one position, want 1", len(got))
	}
}

func TestPumpDropsUndecodablePayload(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	pump := NewPump(hub, nil, viewports, deltas)
	client := addTestClient(hub, "conn-1")
	hub.Join(client, kindRoom(models.KindAircraft))

	pump.handlePosition(models.KindAircraft, []byte("not-json"))

	if got := drain(client); len(got) != 0 {
		t.Errorf("undecodable payload produced %d messages", len(got))
	}
}

func TestViewportUpdateRetargetsDelivery(t *testing.T) {
	t.Parallel()

	hub, viewports, deltas := newTestHub()
	pump := NewPump(hub, nil, viewports, deltas)
	client := addTestClient(hub, "conn-1")

	client.setViewport([]float64{10, 50, 12, 52})
	if len(client.rooms) != 0 {
		t.Errorf("viewport subscription created %d rooms, want 0", len(client.rooms))
	}
	drain(client)

	// Move the viewport across the world; delivery must follow the new bbox
	// with no stale state from the old one.
	client.setViewport([]float64{-120, 30, -118, 32})
	drain(client)

	now := time.Now().UTC()
	for _, pos := range []models.PositionSample{
		sample(models.KindAircraft, "AC-old-area", 51, 11, now),
		sample(models.KindAircraft, "AC-new-area", 31, -119, now),
	} {
		payload, err := marshalForTest(models.PositionUpdate{Kind: models.KindAircraft, Position: pos})
		if err != nil {
			t.Fatal(err)
		}
		pump.handlePosition(models.KindAircraft, payload)
	}

	got := messagesOfType(drain(client), EventAircraftPosition)
	if len(got) != 1 {
		t.Fatalf("got %d position events, want 1", len(got))
	}
	if pos, ok := got[0].Data.(models.PositionSample); !ok || pos.ID != "AC-new-area" {
		t.Errorf("delivered %+v, want the position inside the new viewport", got[0].Data)
	}
}

func TestPingAnswersWithTimestampAndLatency(t *testing.T) {
	t.Parallel()

	hub, _, _ := newTestHub()
	client := addTestClient(hub, "conn-1")

	sent := time.Now().Add(-250 * time.Millisecond).UnixMilli()
	client.handle(ClientMessage{Type: MsgPing, Timestamp: sent})

	msgs := messagesOfType(drain(client), EventPong)
	if len(msgs) != 1 {
		t.Fatalf("got %d pongs, want 1", len(msgs))
	}
	pong, ok := msgs[0].Data.(Pong)
	if !ok {
		t.Fatalf("pong payload is %T, want Pong", msgs[0].Data)
	}
	if pong.Timestamp < sent {
		t.Errorf("server timestamp %d precedes client timestamp %d", pong.Timestamp, sent)
	}
	if pong.Latency < 250 {
		t.Errorf("latency = %dms, want >= 250ms", pong.Latency)
	}

	// A bare ping still pongs, with zero latency.
	client.handle(ClientMessage{Type: MsgPing})
	msgs = messagesOfType(drain(client), EventPong)
	if len(msgs) != 1 {
		t.Fatalf("bare ping got %d pongs, want 1", len(msgs))
	}
	if pong := msgs[0].Data.(Pong); pong.Latency != 0 || pong.Timestamp == 0 {
		t.Errorf("bare ping pong = %+v, want server timestamp with zero latency", pong)
	}
}

func TestDisconnectAfterHubStopDoesNotBlock(t *testing.T) {
	t.Parallel()

	hub, _, _ := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(served)
	}()

	client := NewClient(hub, nil, "conn-1", AnonymousSubject)
	hub.Register <- client

	cancel()
	<-served

	// The read pump's exit path must not hang on the drained channel.
	returned := make(chan struct{})
	go func() {
		client.unregister()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister blocked after hub stop")
	}
}
