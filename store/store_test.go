package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ichao15/slwl/config"
	"github.com/ichao15/slwl/dispatch"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

// network seeds agency-TLT-OLT-OLT-TLT-agency and returns the site ids.
func network(t *testing.T, db *DB) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	for i, st := range []string{SiteAgency, SiteTLT, SiteOLT, SiteOLT, SiteTLT, SiteAgency} {
		s := &Site{Name: st + "-" + string(rune('A'+i)), SiteType: st}
		if err := db.CreateSite(ctx, s); err != nil {
			t.Fatalf("create site: %v", err)
		}
		ids = append(ids, s.ID)
	}
	types := []string{LineConnect, LineBranch, LineTrunk, LineBranch, LineConnect}
	for i, lt := range types {
		l := &TransportLine{LineType: lt, StartSite: ids[i], EndSite: ids[i+1], Distance: float64(10 * (i + 1)), Cost: decimal.NewFromFloat(1.25), DurationSeconds: 3600}
		if err := db.CreateLine(ctx, l); err != nil {
			t.Fatalf("create line %d: %v", i, err)
		}
	}
	return ids
}

// --- Site and line tests ---

func TestSiteCRUD(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	s := &Site{Name: "Hub North", SiteType: SiteOLT, Latitude: 39.9, Longitude: 116.4}
	if err := db.CreateSite(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.ID == 0 {
		t.Fatal("ID should be assigned")
	}
	got, err := db.GetSite(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Hub North" || got.SiteType != SiteOLT {
		t.Errorf("got %+v", got)
	}
	if _, err := db.GetSite(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing site err = %v, want ErrNotFound", err)
	}
	if err := db.CreateSite(ctx, &Site{Name: "bad", SiteType: "WAREHOUSE"}); !errors.Is(err, ErrInvalidSite) {
		t.Errorf("unknown site type: got %v, want ErrInvalidSite", err)
	}
}

func TestLineValidation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ids := network(t, db)

	tests := []struct {
		name string
		line TransportLine
		want error
	}{
		{"same site", TransportLine{LineType: LineTrunk, StartSite: ids[2], EndSite: ids[2]}, ErrInvalidLine},
		{"wrong tiers", TransportLine{LineType: LineTrunk, StartSite: ids[0], EndSite: ids[2]}, ErrInvalidLine},
		{"unknown type", TransportLine{LineType: "AIR", StartSite: ids[2], EndSite: ids[3]}, ErrInvalidLine},
		{"duplicate reversed", TransportLine{LineType: LineTrunk, StartSite: ids[3], EndSite: ids[2]}, ErrDuplicateLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.line
			if err := db.CreateLine(ctx, &l); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEdgesAndFindLine(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ids := network(t, db)

	edges, err := db.Edges(ctx)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 5 {
		t.Fatalf("edges = %d, want 5", len(edges))
	}
	if !edges[0].Cost.Equal(decimal.RequireFromString("1.25")) {
		t.Errorf("cost = %s, want 1.25", edges[0].Cost)
	}
	if edges[0].Duration != time.Hour {
		t.Errorf("duration = %v, want 1h", edges[0].Duration)
	}

	l, err := db.FindLine(ctx, ids[3], ids[2])
	if err != nil {
		t.Fatalf("find reversed: %v", err)
	}
	if l.LineType != LineTrunk {
		t.Errorf("line type = %q, want %q", l.LineType, LineTrunk)
	}

	if err := db.DeleteLine(ctx, l.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.FindLine(ctx, ids[2], ids[3]); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
	if err := db.DeleteLine(ctx, l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

// --- Transport order tests ---

func TestTransportOrderLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	eta := time.Date(2026, 3, 1, 22, 0, 0, 0, time.Local)
	o := &TransportOrder{
		OrderID: 5001, StartSite: 1, EndSite: 3, CurrentSite: 1, NextSite: 2,
		Status: OrderToBeScheduled, Route: []int64{1, 2, 3}, Cost: decimal.RequireFromString("10.50"),
		TotalWeight: 2.5, TotalVolume: 0.01, EstimatedArrival: eta,
	}
	if err := db.CreateTransportOrder(ctx, o, "order created"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.ID == 0 {
		t.Fatal("ID should be assigned")
	}

	got, err := db.GetTransportOrderByOrderID(ctx, 5001)
	if err != nil {
		t.Fatalf("get by order id: %v", err)
	}
	if len(got.Route) != 3 || got.Route[2] != 3 {
		t.Errorf("route = %v, want [1 2 3]", got.Route)
	}
	if !got.Cost.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("cost = %s, want 10.5", got.Cost)
	}
	if !got.EstimatedArrival.Equal(eta) {
		t.Errorf("eta = %v, want %v", got.EstimatedArrival, eta)
	}

	got.Status = OrderScheduled
	if err := db.UpdateTransportOrder(ctx, got, OrderToBeScheduled, "departed"); err != nil {
		t.Fatalf("update: %v", err)
	}
	// a second writer still expecting the old status loses
	if err := db.UpdateTransportOrder(ctx, got, OrderToBeScheduled, "departed again"); !errors.Is(err, ErrConflict) {
		t.Errorf("stale update err = %v, want ErrConflict", err)
	}

	history, err := db.ListOrderHistory(ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	if history[1].Status != OrderScheduled || history[1].Info != "departed" {
		t.Errorf("history[1] = %+v", history[1])
	}

	list, _ := db.ListTransportOrders(ctx, OrderScheduled, 10)
	if len(list) != 1 {
		t.Errorf("scheduled orders = %d, want 1", len(list))
	}
	if _, err := db.GetTransportOrder(ctx, 777); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing order err = %v, want ErrNotFound", err)
	}
}

// --- Transport task tests ---

func TestTransportTaskCreateIsIdempotentPerPlan(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ids := network(t, db)

	var orderIDs []int64
	for i := int64(1); i <= 2; i++ {
		o := &TransportOrder{OrderID: i, StartSite: ids[2], EndSite: ids[3], CurrentSite: ids[2], NextSite: ids[3], Status: OrderToBeScheduled, Route: []int64{ids[2], ids[3]}}
		if err := db.CreateTransportOrder(ctx, o, ""); err != nil {
			t.Fatalf("create order: %v", err)
		}
		orderIDs = append(orderIDs, o.ID)
	}

	task := NewTransportTask(dispatch.Task{
		PlanID: 42, TruckID: 7, TripID: 9, StartSite: ids[2], EndSite: ids[3],
		WaybillIDs: orderIDs, TotalWeight: 800, TotalVolume: 2,
	})
	if task.AssignedStatus != AssignedManualDistributed {
		t.Errorf("assigned = %q, want %q without drivers", task.AssignedStatus, AssignedManualDistributed)
	}
	created, err := db.CreateTransportTask(ctx, task)
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if task.Distance != 30 {
		t.Errorf("distance = %v, want 30 from the trunk line", task.Distance)
	}

	again := NewTransportTask(dispatch.Task{PlanID: 42, TruckID: 7, TripID: 9, StartSite: ids[2], EndSite: ids[3]})
	created, err = db.CreateTransportTask(ctx, again)
	if err != nil || created {
		t.Fatalf("repeat: created=%v err=%v", created, err)
	}
	if again.ID != task.ID || len(again.TransportOrderIDs) != 2 {
		t.Errorf("repeat returned %+v", again)
	}

	if err := db.CompleteTransportTask(ctx, task.ID, time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := db.CompleteTransportTask(ctx, task.ID, time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("second complete err = %v, want ErrConflict", err)
	}
	if err := db.CompleteTransportTask(ctx, 999, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing task err = %v, want ErrNotFound", err)
	}
	got, _ := db.GetTransportTask(ctx, task.ID)
	if got.Status != TaskCompleted || got.CompletedAt == nil {
		t.Errorf("status = %q completed_at = %v", got.Status, got.CompletedAt)
	}
	tasks, err := db.ListTransportTasks(ctx, TaskCompleted, 10)
	if err != nil || len(tasks) != 1 || len(tasks[0].TransportOrderIDs) != 2 {
		t.Errorf("list completed = %v, %v", tasks, err)
	}
}

// --- Vehicle plan tests ---

func TestVehiclePlansShardAndComplete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for id := int64(1); id <= 6; id++ {
		p := &VehiclePlan{ID: id, TruckID: 100 + id, TripID: 200 + id, StartSite: 1, EndSite: 2, MaxWeight: 1000, MaxVolume: 10, DriverIDs: []int64{id}}
		created, err := db.CreateVehiclePlan(ctx, p)
		if err != nil || !created {
			t.Fatalf("create plan %d: created=%v err=%v", id, created, err)
		}
	}
	if created, _ := db.CreateVehiclePlan(ctx, &VehiclePlan{ID: 1}); created {
		t.Error("redelivered plan should not be created twice")
	}

	shard1, err := db.PullUnassigned(ctx, 3, 1, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(shard1) != 2 || shard1[0].ID != 1 || shard1[1].ID != 4 {
		t.Fatalf("shard 1 = %+v, want plans 1 and 4", shard1)
	}
	if shard1[0].Profile.MaxWeight != 1000 || shard1[0].DriverIDs[0] != 1 {
		t.Errorf("plan conversion = %+v", shard1[0])
	}

	if err := db.CompletePlans(ctx, []int64{1, 4}, time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	shard1, _ = db.PullUnassigned(ctx, 3, 1, time.Now().Add(-time.Minute))
	if len(shard1) != 0 {
		t.Errorf("shard 1 after complete = %d plans, want 0", len(shard1))
	}
	p, _ := db.GetVehiclePlan(ctx, 4)
	if p.Status != PlanScheduled || p.ScheduledAt == nil {
		t.Errorf("plan 4 = %+v", p)
	}
	if _, err := db.PullUnassigned(ctx, 3, 3, time.Now()); err == nil {
		t.Error("shard index out of range should fail")
	}
}

func TestPlanClaims(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for id := int64(1); id <= 2; id++ {
		if _, err := db.CreateVehiclePlan(ctx, &VehiclePlan{ID: id, TruckID: id, TripID: id, StartSite: 1, EndSite: 2, MaxWeight: 100, MaxVolume: 1}); err != nil {
			t.Fatalf("create plan %d: %v", id, err)
		}
	}
	past := time.Now().Add(-time.Minute)

	first, err := db.PullUnassigned(ctx, 1, 0, past)
	if err != nil || len(first) != 2 {
		t.Fatalf("first pull = %d plans, err=%v", len(first), err)
	}
	if again, _ := db.PullUnassigned(ctx, 1, 0, past); len(again) != 0 {
		t.Errorf("claimed plans pulled again: %+v", again)
	}
	if p, _ := db.GetVehiclePlan(ctx, 1); p.Status != PlanClaimed {
		t.Errorf("plan 1 status = %s, want %s", p.Status, PlanClaimed)
	}

	if err := db.ReleasePlans(ctx, []int64{1}); err != nil {
		t.Fatalf("release: %v", err)
	}
	released, _ := db.PullUnassigned(ctx, 1, 0, past)
	if len(released) != 1 || released[0].ID != 1 {
		t.Errorf("after release = %+v, want plan 1", released)
	}

	// plan 2's pass persisted a task before dying; plan 1's did not
	task := NewTransportTask(dispatch.Task{PlanID: 2, TruckID: 2, TripID: 2, StartSite: 1, EndSite: 2})
	if _, err := db.CreateTransportTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	stale, err := db.PullUnassigned(ctx, 1, 0, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("stale pull: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != 1 {
		t.Errorf("stale pull = %+v, want plan 1 only", stale)
	}
	if p, _ := db.GetVehiclePlan(ctx, 2); p.Status != PlanScheduled {
		t.Errorf("plan 2 status = %s, want %s", p.Status, PlanScheduled)
	}
}

func TestConcurrentPullsClaimEachPlanOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	const n = 20
	for id := int64(1); id <= n; id++ {
		if _, err := db.CreateVehiclePlan(ctx, &VehiclePlan{ID: id, TruckID: id, TripID: id, StartSite: 1, EndSite: 2, MaxWeight: 100, MaxVolume: 1}); err != nil {
			t.Fatalf("create plan %d: %v", id, err)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	claims := make(map[int64]int)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plans, err := db.PullUnassigned(ctx, 1, 0, time.Now().Add(-time.Minute))
			if err != nil {
				t.Errorf("pull: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range plans {
				claims[p.ID]++
			}
		}()
	}
	wg.Wait()

	if len(claims) != n {
		t.Errorf("claimed %d distinct plans, want %d", len(claims), n)
	}
	for id, c := range claims {
		if c != 1 {
			t.Errorf("plan %d claimed %d times", id, c)
		}
	}
}

func TestDispatchMethod(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m, err := db.DispatchMethod(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m != MethodFewestHops {
		t.Errorf("default method = %d, want %d", m, MethodFewestHops)
	}
	if err := db.SetDispatchMethod(ctx, MethodLowestCost); err != nil {
		t.Fatalf("set: %v", err)
	}
	m, _ = db.DispatchMethod(ctx)
	if m != MethodLowestCost {
		t.Errorf("method = %d, want %d", m, MethodLowestCost)
	}
	if err := db.SetDispatchMethod(ctx, 3); err == nil {
		t.Error("method 3 should be rejected")
	}

	// seeding never overrides an operator's choice
	if err := db.SeedDispatchMethod(ctx, MethodFewestHops); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if m, _ = db.DispatchMethod(ctx); m != MethodLowestCost {
		t.Errorf("method after seed = %d, want %d", m, MethodLowestCost)
	}
}

func TestSeedDispatchMethodOnEmptyDB(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.SeedDispatchMethod(ctx, MethodLowestCost); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if m, _ := db.DispatchMethod(ctx); m != MethodLowestCost {
		t.Errorf("method = %d, want %d", m, MethodLowestCost)
	}
}

// --- Outbox tests ---

func TestOutboxCRUD(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.EnqueueOutbox(ctx, "slwl.dispatch.events", []byte(`{"test":true}`), "task.created", "core"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	db.EnqueueOutbox(ctx, "slwl.dispatch.inbound", []byte(`{"test":2}`), "order.needs_scheduling", "core")

	msgs, err := db.ListPendingOutbox(ctx, 10, 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].MsgType != "task.created" {
		t.Errorf("msg_type = %q, want %q", msgs[0].MsgType, "task.created")
	}

	db.AckOutbox(ctx, msgs[0].ID)
	msgs2, _ := db.ListPendingOutbox(ctx, 10, 5)
	if len(msgs2) != 1 {
		t.Errorf("pending after ack = %d, want 1", len(msgs2))
	}

	db.IncrementOutboxRetries(ctx, msgs2[0].ID)
	msgs3, _ := db.ListPendingOutbox(ctx, 10, 5)
	if msgs3[0].Retries != 1 {
		t.Errorf("retries = %d, want 1", msgs3[0].Retries)
	}
	if dead, _ := db.ListPendingOutbox(ctx, 10, 1); len(dead) != 0 {
		t.Errorf("messages past max retries = %d, want 0", len(dead))
	}

	n, err := db.PurgeSentOutbox(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

// --- Audit tests ---

func TestAuditLog(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.AppendAudit(ctx, "transport_order", 1, "created", "", "TO_BE_SCHEDULED", "system")
	db.AppendAudit(ctx, "transport_order", 1, "scheduled", "TO_BE_SCHEDULED", "SCHEDULED", "system")
	db.AppendAudit(ctx, "line", 2, "deleted", "TRUNK_LINE", "", "admin")

	entries, err := db.ListAuditLog(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("len = %d, want 3", len(entries))
	}
	if entries[0].Action != "deleted" {
		t.Errorf("first entry action = %q, want %q", entries[0].Action, "deleted")
	}
	if orders, _ := db.ListAuditLog(ctx, AuditOrder, 10); len(orders) != 2 {
		t.Errorf("order log entries = %d, want 2", len(orders))
	}

	trail, _ := db.ListEntityAudit(ctx, AuditOrder, 1)
	if len(trail) != 2 || trail[0].Action != "created" || trail[1].Action != "scheduled" {
		t.Errorf("order trail = %+v, want created then scheduled", trail)
	}
	if none, err := db.ListEntityAudit(ctx, AuditOrder, 99); err != nil || none == nil || len(none) != 0 {
		t.Errorf("unknown entity trail = %v, %v; want empty", none, err)
	}
}

func TestAdminUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if ok, _ := db.AdminUserExists(ctx); ok {
		t.Fatal("fresh db should have no admin")
	}
	if err := db.CreateAdminUser(ctx, "admin", "hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := db.GetAdminUser(ctx, "admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordHash != "hash" {
		t.Errorf("hash = %q", u.PasswordHash)
	}
	if ok, _ := db.AdminUserExists(ctx); !ok {
		t.Error("admin should exist")
	}
}

// --- Dialect tests ---

func TestRebind(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"SELECT * FROM t WHERE a=? AND b=?", "SELECT * FROM t WHERE a=$1 AND b=$2"},
		{"INSERT INTO t (a) VALUES (?)", "INSERT INTO t (a) VALUES ($1)"},
		{"SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		got := Rebind(tt.input)
		if got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRenderSchemaPerDialect(t *testing.T) {
	pg := renderSchema(postgresDialect{})
	for _, want := range []string{"BIGSERIAL PRIMARY KEY", "NUMERIC(14,2)", "TIMESTAMPTZ", "BYTEA"} {
		if !strings.Contains(pg, want) {
			t.Errorf("postgres schema missing %q", want)
		}
	}
	if strings.Contains(renderSchema(sqliteDialect{}), "{{") {
		t.Error("sqlite schema has unreplaced markers")
	}
}
