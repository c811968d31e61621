package www

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/ichao15/slwl/corridor"
	"github.com/ichao15/slwl/route"
	"github.com/ichao15/slwl/store"
)

// corridorPeek bounds how much of a corridor queue the API shows.
const corridorPeek = 20

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	redisOK := h.engine.PingRedis(r.Context()) == nil
	status := "ok"
	if !redisOK {
		status = "degraded"
	}
	h.jsonOK(w, map[string]any{
		"status":    status,
		"redis":     redisOK,
		"messaging": h.engine.MessagingConnected(),
	})
}

func (h *Handlers) apiListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.engine.DB().ListSites(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, sites)
}

func (h *Handlers) apiCreateSite(w http.ResponseWriter, r *http.Request) {
	var s store.Site
	if !h.decode(w, r, &s) {
		return
	}
	if err := h.engine.DB().CreateSite(r.Context(), &s); err != nil {
		h.fail(w, err)
		return
	}
	h.audit(r, "site", s.ID, "created", "", s.Name)
	h.jsonStatus(w, http.StatusCreated, s)
}

func (h *Handlers) apiListLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.engine.DB().ListLines(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, lines)
}

func (h *Handlers) apiCreateLine(w http.ResponseWriter, r *http.Request) {
	var l store.TransportLine
	if !h.decode(w, r, &l) {
		return
	}
	if err := h.engine.DB().CreateLine(r.Context(), &l); err != nil {
		h.fail(w, err)
		return
	}
	h.audit(r, "transport_line", l.ID, "created", "", fmt.Sprintf("%d <-> %d", l.StartSite, l.EndSite))
	h.jsonStatus(w, http.StatusCreated, l)
}

func (h *Handlers) apiDeleteLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.DB().DeleteLine(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.audit(r, "transport_line", id, "deleted", "", "")
	w.WriteHeader(http.StatusNoContent)
}

// apiSelectRoute previews the path a new order would take. Without a
// policy parameter the stored dispatch method applies.
func (h *Handlers) apiSelectRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err1 := strconv.ParseInt(q.Get("start"), 10, 64)
	end, err2 := strconv.ParseInt(q.Get("end"), 10, 64)
	if err1 != nil || err2 != nil {
		h.jsonError(w, "start and end must be site ids", http.StatusBadRequest)
		return
	}

	var policy route.Policy
	if p := q.Get("policy"); p != "" {
		policy, err1 = route.ParsePolicy(p)
		if err1 != nil {
			h.jsonError(w, err1.Error(), http.StatusBadRequest)
			return
		}
	} else {
		method, err := h.engine.DB().DispatchMethod(r.Context())
		if err != nil {
			h.fail(w, err)
			return
		}
		if policy, err = route.PolicyFromMethod(method); err != nil {
			h.fail(w, err)
			return
		}
	}

	path, err := h.engine.Selector().SelectPath(r.Context(), start, end, policy)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{
		"policy": policy.String(),
		"hops":   path.Hops(),
		"path":   path,
	})
}

// apiCorridor shows the waiting waybills and lock contention on one corridor.
func (h *Handlers) apiCorridor(w http.ResponseWriter, r *http.Request) {
	origin, ok := h.pathID(w, r, "origin")
	if !ok {
		return
	}
	dest, ok := h.pathID(w, r, "destination")
	if !ok {
		return
	}
	c := corridor.New(origin, dest)
	ctx := r.Context()

	n, err := h.engine.Queue().Len(ctx, c)
	if err != nil {
		h.fail(w, err)
		return
	}
	head, err := h.engine.Queue().Peek(ctx, c, corridorPeek)
	if err != nil {
		h.fail(w, err)
		return
	}
	waiters, err := h.engine.Locker().Waiters(ctx, c)
	if err != nil {
		h.fail(w, err)
		return
	}
	if head == nil {
		head = []corridor.Summary{}
	}
	h.jsonOK(w, map[string]any{
		"corridor": c.Key(),
		"length":   n,
		"head":     head,
		"waiters":  waiters,
	})
}

func (h *Handlers) apiDispatchConfig(w http.ResponseWriter, r *http.Request) {
	method, err := h.engine.DB().DispatchMethod(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	policy, _ := route.PolicyFromMethod(method)
	h.jsonOK(w, map[string]any{
		"method": method,
		"policy": policy.String(),
	})
}

type dispatchConfigRequest struct {
	Method int    `json:"method"`
	Policy string `json:"policy"`
}

func (h *Handlers) apiSetDispatchConfig(w http.ResponseWriter, r *http.Request) {
	var req dispatchConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	method := req.Method
	if req.Policy != "" {
		p, err := route.ParsePolicy(req.Policy)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		method = int(p)
	}
	policy, err := route.PolicyFromMethod(method)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	old, _ := h.engine.DB().DispatchMethod(ctx)
	if err := h.engine.DB().SetDispatchMethod(ctx, method); err != nil {
		h.fail(w, err)
		return
	}
	h.audit(r, "dispatch_config", 1, "method", strconv.Itoa(old), strconv.Itoa(method))
	h.jsonOK(w, map[string]any{
		"method": method,
		"policy": policy.String(),
	})
}

func (h *Handlers) apiListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.engine.DB().ListVehiclePlans(r.Context(), r.URL.Query().Get("status"), listLimit(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, plans)
}

// apiCreatePlan records a vehicle plan by hand, the same as one arriving
// from fleet planning. Resubmitting a known plan id changes nothing.
func (h *Handlers) apiCreatePlan(w http.ResponseWriter, r *http.Request) {
	var p store.VehiclePlan
	if !h.decode(w, r, &p) {
		return
	}
	d := h.engine.AppConfig().Dispatch
	plan := p.Plan()
	plan.Profile = plan.Profile.WithDefaultRatios(d.WeightRatio, d.VolumeRatio)
	if err := plan.Validate(); err != nil {
		h.fail(w, err)
		return
	}
	p.Status = ""
	created, err := h.engine.DB().CreateVehiclePlan(r.Context(), &p)
	if err != nil {
		h.fail(w, err)
		return
	}
	stored, err := h.engine.DB().GetVehiclePlan(r.Context(), p.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		h.audit(r, store.AuditPlan, p.ID, "created", "", fmt.Sprintf("truck %d, %d -> %d", p.TruckID, p.StartSite, p.EndSite))
	}
	h.jsonStatus(w, code, stored)
}

// apiRunDispatch runs a pass to completion even if the caller hangs up, so
// popped waybills and held corridor locks are never abandoned mid-batch.
func (h *Handlers) apiRunDispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RunDispatch(context.WithoutCancel(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]int{
		"plans":     res.Plans,
		"tasks":     res.Tasks,
		"empty":     res.Empty,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"oversized": res.Oversized,
	})
}

// apiAuditLog lists recent changes, optionally for one entity type.
func (h *Handlers) apiAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.DB().ListAuditLog(r.Context(), r.URL.Query().Get("entity"), listLimit(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) apiOrderAudit(w http.ResponseWriter, r *http.Request) {
	h.entityAudit(w, r, store.AuditOrder, func(ctx context.Context, id int64) error {
		_, err := h.engine.DB().GetTransportOrder(ctx, id)
		return err
	})
}

func (h *Handlers) apiTaskAudit(w http.ResponseWriter, r *http.Request) {
	h.entityAudit(w, r, store.AuditTask, func(ctx context.Context, id int64) error {
		_, err := h.engine.DB().GetTransportTask(ctx, id)
		return err
	})
}

// entityAudit serves one entity's trail, oldest first. exists reports
// ErrNotFound for an unknown id.
func (h *Handlers) entityAudit(w http.ResponseWriter, r *http.Request, entity string, exists func(context.Context, int64) error) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := exists(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	entries, err := h.engine.DB().ListEntityAudit(r.Context(), entity, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) audit(r *http.Request, entity string, id int64, action, oldValue, newValue string) {
	if err := h.engine.DB().AppendAudit(r.Context(), entity, id, action, oldValue, newValue, h.actor(r)); err != nil {
		log.Printf("www: audit %s %d %s: %v", entity, id, action, err)
	}
}
