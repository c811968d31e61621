package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ichao15/slwl/route"
	"github.com/ichao15/slwl/store"
)

const auditEntity = store.AuditOrder

// Manager owns the transport order lifecycle:
// CREATED -> TO_BE_SCHEDULED -> SCHEDULED -> (TO_BE_SCHEDULED ...) -> ARRIVED_END,
// with REJECTED leading back to TO_BE_SCHEDULED on the return leg.
type Manager struct {
	db      OrderStore
	paths   PathFinder
	emitter Emitter
	now     func() time.Time
}

func NewManager(db OrderStore, paths PathFinder, emitter Emitter) *Manager {
	return &Manager{db: db, paths: paths, emitter: emitter, now: time.Now}
}

// Convert creates the transport order for a business order. Converting the
// same order twice returns the existing transport order.
func (m *Manager) Convert(ctx context.Context, req NewOrder) (*store.TransportOrder, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if existing, err := m.db.GetTransportOrderByOrderID(ctx, req.OrderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("convert order %d: %w", req.OrderID, err)
	}

	now := m.now()
	o := &store.TransportOrder{
		OrderID:          req.OrderID,
		StartSite:        req.StartSite,
		EndSite:          req.EndSite,
		CurrentSite:      req.StartSite,
		NextSite:         req.StartSite,
		Status:           store.OrderCreated,
		Route:            []int64{req.StartSite},
		Cost:             decimal.Zero,
		TotalWeight:      req.TotalWeight,
		TotalVolume:      req.TotalVolume,
		EstimatedArrival: EstimatedArrival(now),
	}

	if req.StartSite == req.EndSite {
		if err := m.create(ctx, o, "order received at its destination site"); err != nil {
			return m.convertRace(ctx, req.OrderID, err)
		}
		if err := m.setStatus(ctx, o, store.OrderScheduled, "no transport needed"); err != nil {
			return nil, err
		}
		if err := m.arrive(ctx, o, store.OrderScheduled); err != nil {
			return nil, err
		}
		return o, nil
	}

	path, err := m.selectPath(ctx, req.OrderID, req.StartSite, req.EndSite)
	if err != nil {
		return nil, fmt.Errorf("convert order %d: %w", req.OrderID, err)
	}
	o.Route = path.Sites
	o.NextSite = path.Sites[1]
	o.Cost = path.Cost

	if err := m.create(ctx, o, fmt.Sprintf("order received at site %d", o.StartSite)); err != nil {
		return m.convertRace(ctx, req.OrderID, err)
	}
	if err := m.requeue(ctx, o, store.OrderCreated, fmt.Sprintf("awaiting transport from site %d to site %d", o.CurrentSite, o.NextSite)); err != nil {
		return nil, err
	}
	return o, nil
}

// convertRace resolves a failed insert that lost against a concurrent
// conversion of the same order.
func (m *Manager) convertRace(ctx context.Context, orderID int64, createErr error) (*store.TransportOrder, error) {
	if existing, err := m.db.GetTransportOrderByOrderID(ctx, orderID); err == nil {
		return existing, nil
	}
	return nil, createErr
}

// MarkScheduled moves the orders loaded onto a task to SCHEDULED. Orders
// already scheduled are left alone so a redelivered task is harmless.
func (m *Manager) MarkScheduled(ctx context.Context, taskID int64, orderIDs []int64) error {
	var errs []error
	for _, id := range orderIDs {
		o, err := m.db.GetTransportOrder(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if o.Status == store.OrderScheduled {
			continue
		}
		if o.Status != store.OrderToBeScheduled {
			errs = append(errs, fmt.Errorf("%w: order %d is %s, cannot load onto task %d", ErrInvalidTransition, id, o.Status, taskID))
			continue
		}
		info := fmt.Sprintf("departed site %d for site %d on task %d", o.CurrentSite, o.NextSite, taskID)
		if err := m.setStatus(ctx, o, store.OrderScheduled, info); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AdvanceHop records arrival at the order's next site. The arrival site is
// looked up from the route tail so a site visited twice resolves to the
// later visit.
func (m *Manager) AdvanceHop(ctx context.Context, id int64) (*store.TransportOrder, error) {
	o, err := m.db.GetTransportOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != store.OrderScheduled {
		return nil, fmt.Errorf("%w: order %d is %s, hop completion needs %s", ErrInvalidTransition, id, o.Status, store.OrderScheduled)
	}

	o.CurrentSite = o.NextSite
	i := lastIndex(o.Route, o.CurrentSite)
	if i < 0 {
		return nil, fmt.Errorf("order %d: site %d not on route %v", id, o.CurrentSite, o.Route)
	}
	if i == len(o.Route)-1 {
		return o, m.arrive(ctx, o, store.OrderScheduled)
	}
	o.NextSite = o.Route[i+1]
	info := fmt.Sprintf("arrived at site %d, next stop site %d", o.CurrentSite, o.NextSite)
	return o, m.requeue(ctx, o, store.OrderScheduled, info)
}

// CompleteTask closes a task and advances every order it carried.
// Completing a task twice is a no-op.
func (m *Manager) CompleteTask(ctx context.Context, taskID int64) error {
	if err := m.db.CompleteTransportTask(ctx, taskID, m.now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Printf("transport: task %d already closed", taskID)
			return nil
		}
		return err
	}
	task, err := m.db.GetTransportTask(ctx, taskID)
	if err != nil {
		return err
	}
	m.audit(ctx, store.AuditTask, taskID, "completed", store.TaskPending, store.TaskCompleted)

	var errs []error
	for _, id := range task.TransportOrderIDs {
		if _, err := m.AdvanceHop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Requeue announces a waiting order for its current hop again, for when
// the original announcement was lost on its way to the corridor queue. The
// queue ignores the repeat while the order is still in line.
func (m *Manager) Requeue(ctx context.Context, id int64) (*store.TransportOrder, error) {
	o, err := m.db.GetTransportOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != store.OrderToBeScheduled {
		return nil, fmt.Errorf("%w: order %d is %s, requeue needs %s", ErrInvalidTransition, id, o.Status, store.OrderToBeScheduled)
	}
	if err := m.db.TouchTransportOrder(ctx, id, o.Status); err != nil {
		return nil, err
	}
	s := Summary(o, m.now())
	m.audit(ctx, auditEntity, id, "requeued", "", s.Corridor().Key())
	m.emitter.EmitOrderNeedsScheduling(o, s)
	return o, nil
}

// RequeueStale requeues up to limit orders that have waited for a vehicle
// since before the cutoff. It returns how many were requeued.
func (m *Manager) RequeueStale(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := m.db.ListStaleOrders(ctx, store.OrderToBeScheduled, before, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, o := range stale {
		if _, err := m.Requeue(ctx, o.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, store.ErrConflict) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Reject turns a delivered order around. The return leg runs from the
// route tail to the opposite endpoint and is appended to the route, so the
// walked path is never rewritten. When both endpoints are the same site the
// order goes straight back to delivery.
func (m *Manager) Reject(ctx context.Context, id int64, reason string) (*store.TransportOrder, error) {
	o, err := m.db.GetTransportOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != store.OrderArrivedEnd {
		return nil, fmt.Errorf("%w: order %d is %s, rejection needs %s", ErrInvalidTransition, id, o.Status, store.OrderArrivedEnd)
	}

	tail := o.Route[len(o.Route)-1]
	dest := o.StartSite
	if tail == o.StartSite {
		dest = o.EndSite
	}

	o.IsRejected = true
	if err := m.setStatus(ctx, o, store.OrderRejected, "rejected: "+reason); err != nil {
		return nil, err
	}

	o.CurrentSite = tail
	if dest == tail {
		o.NextSite = tail
		return o, m.arrive(ctx, o, store.OrderRejected)
	}

	path, err := m.selectPath(ctx, o.OrderID, tail, dest)
	if err != nil {
		return o, fmt.Errorf("reverse order %d: %w", id, err)
	}
	o.Route = append(o.Route, path.Sites[1:]...)
	o.Cost = o.Cost.Add(path.Cost)
	o.NextSite = path.Sites[1]
	info := fmt.Sprintf("returning from site %d to site %d", tail, dest)
	return o, m.requeue(ctx, o, store.OrderRejected, info)
}

func (m *Manager) selectPath(ctx context.Context, orderID, start, end int64) (*route.Path, error) {
	policy, err := m.policy(ctx)
	if err != nil {
		return nil, err
	}
	path, err := m.paths.SelectPath(ctx, start, end, policy)
	if errors.Is(err, route.ErrNoPath) {
		log.Printf("transport: order %d: no path from %d to %d", orderID, start, end)
		m.emitter.EmitNoPath(orderID, start, end, err.Error())
	}
	return path, err
}

func (m *Manager) policy(ctx context.Context) (route.Policy, error) {
	method, err := m.db.DispatchMethod(ctx)
	if err != nil {
		return 0, err
	}
	return route.PolicyFromMethod(method)
}

func (m *Manager) create(ctx context.Context, o *store.TransportOrder, info string) error {
	if err := m.db.CreateTransportOrder(ctx, o, info); err != nil {
		return err
	}
	m.audit(ctx, auditEntity, o.ID, "created", "", o.Status)
	return nil
}

// setStatus moves o from its current status to status and persists it.
func (m *Manager) setStatus(ctx context.Context, o *store.TransportOrder, status, info string) error {
	from := o.Status
	o.Status = status
	return m.save(ctx, o, from, info)
}

func (m *Manager) save(ctx context.Context, o *store.TransportOrder, from, info string) error {
	if err := m.db.UpdateTransportOrder(ctx, o, from, info); err != nil {
		return err
	}
	m.audit(ctx, auditEntity, o.ID, "status", from, o.Status)
	m.emitter.EmitOrderStatusChanged(o, from)
	return nil
}

// requeue puts the order back in line for its current hop.
func (m *Manager) requeue(ctx context.Context, o *store.TransportOrder, from, info string) error {
	o.Status = store.OrderToBeScheduled
	if err := m.save(ctx, o, from, info); err != nil {
		return err
	}
	m.emitter.EmitOrderNeedsScheduling(o, Summary(o, m.now()))
	return nil
}

func (m *Manager) arrive(ctx context.Context, o *store.TransportOrder, from string) error {
	o.Status = store.OrderArrivedEnd
	o.NextSite = o.CurrentSite
	if err := m.save(ctx, o, from, fmt.Sprintf("arrived at final site %d", o.CurrentSite)); err != nil {
		return err
	}
	m.emitter.EmitOrderArrivedFinal(o)
	m.emitter.EmitOrderAwaitingDelivery(o)
	return nil
}

func (m *Manager) audit(ctx context.Context, entity string, id int64, action, oldValue, newValue string) {
	if err := m.db.AppendAudit(ctx, entity, id, action, oldValue, newValue, "system"); err != nil {
		log.Printf("transport: audit %s %d: %v", entity, id, err)
	}
}
