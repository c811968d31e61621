package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	src := Address{Role: RoleFleet, Node: "planner-1", Station: "hub-7"}
	dst := Address{Role: RoleDispatch}

	env, err := NewEnvelope(TypeVehiclePlanAvailable, src, dst, &VehiclePlanAvailable{
		PlanID:    42,
		TruckID:   7,
		TripID:    9,
		MaxWeight: 1000,
		DriverIDs: []int64{3, 4},
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	if env.Version != Version {
		t.Errorf("version = %d, want %d", env.Version, Version)
	}
	if env.Type != TypeVehiclePlanAvailable {
		t.Errorf("type = %q, want %q", env.Type, TypeVehiclePlanAvailable)
	}
	if env.Src != src {
		t.Errorf("src = %+v, want %+v", env.Src, src)
	}
	if env.ID == "" {
		t.Error("ID should not be empty")
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != env.ID {
		t.Errorf("decoded id = %q, want %q", decoded.ID, env.ID)
	}

	var p VehiclePlanAvailable
	if err := decoded.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.PlanID != 42 || p.MaxWeight != 1000 {
		t.Errorf("payload = %+v", p)
	}
	if len(p.DriverIDs) != 2 || p.DriverIDs[1] != 4 {
		t.Errorf("driver_ids = %v, want [3 4]", p.DriverIDs)
	}
}

func TestExpiry(t *testing.T) {
	env := &Envelope{ExpiresAt: time.Now().UTC().Add(-1 * time.Minute)}
	if !IsExpired(env) {
		t.Error("expected expired envelope to be detected")
	}

	env.ExpiresAt = time.Now().UTC().Add(10 * time.Minute)
	if IsExpired(env) {
		t.Error("expected future-expiry envelope to not be expired")
	}

	env.ExpiresAt = time.Time{}
	if IsExpired(env) {
		t.Error("expected zero-expiry envelope to not be expired")
	}
}

func TestExpiryHeader(t *testing.T) {
	hdr := &RawHeader{ExpiresAt: time.Now().UTC().Add(-1 * time.Second)}
	if !IsExpiredHeader(hdr) {
		t.Error("expected expired header to be detected")
	}

	hdr.ExpiresAt = time.Now().UTC().Add(5 * time.Minute)
	if IsExpiredHeader(hdr) {
		t.Error("expected future header to not be expired")
	}
}

func TestDefaultTTLFor(t *testing.T) {
	if ttl := DefaultTTLFor(TypeOrderStatus); ttl != 10*time.Minute {
		t.Errorf("status TTL = %v, want 10m", ttl)
	}
	if ttl := DefaultTTLFor(TypeOrderRejected); ttl != 24*time.Hour {
		t.Errorf("rejected TTL = %v, want 24h", ttl)
	}
	if ttl := DefaultTTLFor("unknown.type"); ttl != FallbackTTL {
		t.Errorf("unknown TTL = %v, want %v", ttl, FallbackTTL)
	}
	if ttl := DefaultTTLFor(TypeOrderNeedsScheduling); ttl != 0 {
		t.Errorf("needs-scheduling TTL = %v, want none", ttl)
	}
}

func TestLoopbackMessagesNeverExpire(t *testing.T) {
	for _, typ := range []string{TypeOrderNeedsScheduling, TypeTaskHopCompleted} {
		env, err := NewEnvelope(typ, Address{Role: RoleDispatch}, Address{Role: RoleDispatch}, &WaybillTransit{})
		if err != nil {
			t.Fatalf("NewEnvelope %s: %v", typ, err)
		}
		if !env.ExpiresAt.IsZero() {
			t.Errorf("%s expires at %v, want never", typ, env.ExpiresAt)
		}
		data, _ := env.Encode()
		var hdr RawHeader
		if err := json.Unmarshal(data, &hdr); err != nil {
			t.Fatalf("decode header: %v", err)
		}
		if IsExpiredHeader(&hdr) {
			t.Errorf("%s header reported expired", typ)
		}
	}
}

func encode(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	env, err := NewEnvelope(msgType, Address{Role: RoleOrders}, Address{Role: RoleDispatch}, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestIngestorDispatch(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, nil)

	data := encode(t, TypeWaybillTransit, &WaybillTransit{TransportOrderID: 11, CurrentSiteID: 1, NextSiteID: 2})
	if err := ingestor.HandleRaw(context.Background(), data); err != nil {
		t.Fatalf("HandleRaw: %v", err)
	}
	if handler.transit == nil || handler.transit.TransportOrderID != 11 {
		t.Errorf("transit = %+v, want order 11", handler.transit)
	}

	data = encode(t, TypeOrderRejected, &OrderRejected{TransportOrderID: 12, Reason: "damaged"})
	if err := ingestor.HandleRaw(context.Background(), data); err != nil {
		t.Fatalf("HandleRaw: %v", err)
	}
	if handler.rejected == nil || handler.rejected.Reason != "damaged" {
		t.Errorf("rejected = %+v", handler.rejected)
	}
}

func TestIngestorReturnsHandlerError(t *testing.T) {
	boom := errors.New("store unavailable")
	handler := &testHandler{err: boom}
	ingestor := NewIngestor(handler, nil)

	err := ingestor.HandleRaw(context.Background(), encode(t, TypeWaybillTransit, &WaybillTransit{}))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if Permanent(err) {
		t.Error("handler errors should be retried")
	}
}

func TestIngestorPermanentErrors(t *testing.T) {
	ingestor := NewIngestor(&testHandler{}, nil)
	ctx := context.Background()

	if err := ingestor.HandleRaw(ctx, []byte("{not json")); !errors.Is(err, ErrMalformed) {
		t.Errorf("garbage: err = %v, want ErrMalformed", err)
	}

	bad := encode(t, TypeTaskCompleted, map[string]string{"task_id": "seven"})
	if err := ingestor.HandleRaw(ctx, bad); !errors.Is(err, ErrMalformed) {
		t.Errorf("bad payload: err = %v, want ErrMalformed", err)
	}

	unknown := encode(t, TypeTaskCreated, &TaskCreated{})
	err := ingestor.HandleRaw(ctx, unknown)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("outbound type: err = %v, want ErrUnknownType", err)
	}
	if !Permanent(err) {
		t.Error("unknown type should be permanent")
	}
}

func TestIngestorFilter(t *testing.T) {
	handler := &testHandler{}
	// Filter that rejects everything
	ingestor := NewIngestor(handler, func(_ *RawHeader) bool { return false })

	if err := ingestor.HandleRaw(context.Background(), encode(t, TypeWaybillTransit, &WaybillTransit{})); err != nil {
		t.Fatalf("HandleRaw: %v", err)
	}
	if handler.transit != nil {
		t.Error("expected handler to NOT be called when filter rejects")
	}
}

func TestIngestorDropsExpired(t *testing.T) {
	handler := &testHandler{}
	ingestor := NewIngestor(handler, nil)

	env, _ := NewEnvelope(TypeWaybillTransit, Address{Role: RoleOrders}, Address{Role: RoleDispatch}, &WaybillTransit{})
	env.ExpiresAt = time.Now().UTC().Add(-1 * time.Minute)
	data, _ := env.Encode()

	if err := ingestor.HandleRaw(context.Background(), data); err != nil {
		t.Fatalf("HandleRaw: %v", err)
	}
	if handler.transit != nil {
		t.Error("expected handler to NOT be called for expired message")
	}
}

func TestWireFormatKeys(t *testing.T) {
	data := encode(t, TypeOrderStatus, &OrderStatus{TransportOrderID: 1, Status: "SCHEDULED"})

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	expected := []string{"v", "type", "id", "src", "dst", "ts", "exp", "p"}
	for _, k := range expected {
		if _, ok := m[k]; !ok {
			t.Errorf("expected key %q in wire format", k)
		}
	}
	long := []string{"version", "payload", "timestamp", "expires_at", "source", "destination"}
	for _, k := range long {
		if _, ok := m[k]; ok {
			t.Errorf("unexpected long key %q in wire format", k)
		}
	}
}

// testHandler records the payloads it receives.
type testHandler struct {
	NoOpHandler
	err      error
	transit  *WaybillTransit
	rejected *OrderRejected
}

func (h *testHandler) HandleWaybillTransit(_ context.Context, _ *Envelope, p *WaybillTransit) error {
	h.transit = p
	return h.err
}

func (h *testHandler) HandleOrderRejected(_ context.Context, _ *Envelope, p *OrderRejected) error {
	h.rejected = p
	return h.err
}
