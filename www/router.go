package www

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"github.com/ichao15/slwl/engine"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
}

func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: hub,
	}

	h.ensureDefaultAdmin(eng.DB())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// SSE
	r.Get("/events", hub.SSEHandler)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	// API routes (no auth required for read)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/orders", h.apiListOrders)
		r.Get("/orders/{id}", h.apiGetOrder)
		r.Get("/orders/{id}/history", h.apiOrderHistory)
		r.Get("/tasks", h.apiListTasks)
		r.Get("/tasks/{id}", h.apiGetTask)
		r.Get("/sites", h.apiListSites)
		r.Get("/lines", h.apiListLines)
		r.Get("/route", h.apiSelectRoute)
		r.Get("/corridors/{origin}/{destination}", h.apiCorridor)
		r.Get("/dispatch/config", h.apiDispatchConfig)
		r.Get("/plans", h.apiListPlans)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/orders", h.apiConvertOrder)
			r.Post("/orders/{id}/reject", h.apiRejectOrder)
			r.Post("/orders/{id}/requeue", h.apiRequeueOrder)
			r.Get("/orders/{id}/audit", h.apiOrderAudit)
			r.Get("/tasks/{id}/audit", h.apiTaskAudit)
			r.Get("/audit", h.apiAuditLog)
			r.Post("/tasks/{id}/complete", h.apiCompleteTask)
			r.Post("/sites", h.apiCreateSite)
			r.Post("/lines", h.apiCreateLine)
			r.Delete("/lines/{id}", h.apiDeleteLine)
			r.Put("/dispatch/config", h.apiSetDispatchConfig)
			r.Post("/plans", h.apiCreatePlan)
			r.Post("/dispatch/run", h.apiRunDispatch)
		})
	})

	stopFn := func() {
		hub.Stop()
	}

	return r, stopFn
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin accepts a JSON body or a form post.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	user, err := h.engine.DB().GetAdminUser(ctx, req.Username)
	if err != nil || !checkPassword(user.PasswordHash, req.Password) {
		h.jsonError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = true
	session.Values["username"] = req.Username
	if err := session.Save(r, w); err != nil {
		log.Printf("auth: session save error: %v", err)
		h.jsonError(w, "session error", http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"username": req.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = false
	session.Values["username"] = ""
	session.Save(r, w)
	w.WriteHeader(http.StatusNoContent)
}
