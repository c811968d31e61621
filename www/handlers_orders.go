package www

import (
	"net/http"

	"github.com/ichao15/slwl/transport"
)

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.DB().ListTransportOrders(r.Context(), r.URL.Query().Get("status"), listLimit(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, orders)
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.engine.DB().GetTransportOrder(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, order)
}

// apiOrderHistory returns the customer tracking lines, oldest first.
func (h *Handlers) apiOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.engine.DB().GetTransportOrder(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	history, err := h.engine.DB().ListOrderHistory(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, history)
}

func (h *Handlers) apiConvertOrder(w http.ResponseWriter, r *http.Request) {
	var req transport.NewOrder
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.engine.Orders().Convert(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, order)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) apiRejectOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "rejected by " + h.actor(r)
	}
	order, err := h.engine.Orders().Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, order)
}

// apiRequeueOrder re-announces a waiting order to its corridor queue, for
// an order whose queue request never arrived.
func (h *Handlers) apiRequeueOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.engine.Orders().Requeue(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, order)
}

func (h *Handlers) apiListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.engine.DB().ListTransportTasks(r.Context(), r.URL.Query().Get("status"), listLimit(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, tasks)
}

func (h *Handlers) apiGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := h.engine.DB().GetTransportTask(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, task)
}

// apiCompleteTask records a finished trip by hand, advancing every order
// on it one hop.
func (h *Handlers) apiCompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.Orders().CompleteTask(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	task, err := h.engine.DB().GetTransportTask(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, task)
}
