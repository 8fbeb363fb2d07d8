// Package panel implements the staff-facing HTTP surface: login, bulk
// and emergency open, block/unblock, VIP contract management, and the
// audit log viewer (spec §4.9, §4.10).
package panel

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lockergrid/core/internal/api"
	apimw "github.com/lockergrid/core/internal/api/middleware"
	"github.com/lockergrid/core/internal/auth"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/staffops"
	"github.com/lockergrid/core/internal/store"
)

type Server struct {
	ops            *staffops.Ops
	store          *store.Store
	events         *event.Logger
	users          *auth.StaffUsers
	sessions       *auth.StaffSessions
	allowedOrigins []string
}

type Config struct {
	Ops            *staffops.Ops
	Store          *store.Store
	Events         *event.Logger
	Users          *auth.StaffUsers
	Sessions       *auth.StaffSessions
	AllowedOrigins []string
}

func NewServer(cfg Config) *Server {
	return &Server{
		ops: cfg.Ops, store: cfg.Store, events: cfg.Events,
		users: cfg.Users, sessions: cfg.Sessions, allowedOrigins: cfg.AllowedOrigins,
	}
}

func (s *Server) Router() http.Handler {
	r := apimw.NewRouter(apimw.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.allowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "panel",
		EnableLogging:         true,
	})

	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware)
		r.Post("/lockers/{kioskID}/{lockerID}/open", s.handleStaffOpen)
		r.Post("/lockers/{kioskID}/bulk-open", s.handleBulkOpen)
		r.Post("/lockers/{kioskID}/{lockerID}/block", s.handleBlock)
		r.Post("/lockers/{kioskID}/{lockerID}/unblock", s.handleUnblock)
		r.Post("/emergency-open-all", s.handleEmergencyOpenAll)
		r.Post("/vip-contracts", s.handleCreateVipContract)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) actor(r *http.Request) staffops.Actor {
	user, _ := auth.StaffUserFromContext(r.Context())
	return staffops.Actor{User: user, IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	if err := s.users.Verify(r.Context(), body.Username, body.Password); err != nil {
		api.WriteError(w, r, api.Unauthorized("INVALID_CREDENTIALS", "invalid username or password"))
		return
	}
	token, err := s.sessions.Issue(body.Username)
	if err != nil {
		api.WriteError(w, r, api.Internal("SESSION_ISSUE_FAILED", err.Error()))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleStaffOpen(w http.ResponseWriter, r *http.Request) {
	kioskID := chi.URLParam(r, "kioskID")
	lockerID, err := parseLockerID(r)
	if err != nil {
		api.WriteError(w, r, api.Validation("INVALID_LOCKER_ID", err.Error()))
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	commandID, err := s.ops.StaffOpen(r.Context(), s.actor(r), kioskID, lockerID, body.Reason)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"command_id": commandID})
}

func (s *Server) handleBulkOpen(w http.ResponseWriter, r *http.Request) {
	kioskID := chi.URLParam(r, "kioskID")
	var body struct {
		LockerIDs  []int  `json:"locker_ids"`
		ExcludeVip bool   `json:"exclude_vip"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	commandIDs, err := s.ops.BulkOpen(r.Context(), s.actor(r), kioskID, body.LockerIDs, body.ExcludeVip, body.Reason)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]any{"command_ids": commandIDs})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	kioskID := chi.URLParam(r, "kioskID")
	lockerID, err := parseLockerID(r)
	if err != nil {
		api.WriteError(w, r, api.Validation("INVALID_LOCKER_ID", err.Error()))
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.ops.Block(r.Context(), s.actor(r), kioskID, lockerID, body.Reason); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"status": "blocked"})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	kioskID := chi.URLParam(r, "kioskID")
	lockerID, err := parseLockerID(r)
	if err != nil {
		api.WriteError(w, r, api.Validation("INVALID_LOCKER_ID", err.Error()))
		return
	}
	if err := s.ops.Unblock(r.Context(), s.actor(r), kioskID, lockerID); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"status": "free"})
}

func (s *Server) handleEmergencyOpenAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason          string `json:"reason"`
		ConfirmationPIN string `json:"confirmation_pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	n, err := s.ops.EmergencyOpenAll(r.Context(), s.actor(r), body.Reason, body.ConfirmationPIN)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]int{"lockers_opened": n})
}

func (s *Server) handleCreateVipContract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		KioskID   string `json:"kiosk_id"`
		LockerID  int    `json:"locker_id"`
		RFIDCard  string `json:"rfid_card"`
		StartDate int64  `json:"start_date"`
		EndDate   int64  `json:"end_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	user, _ := auth.StaffUserFromContext(r.Context())
	contract, err := s.store.CreateVipContract(r.Context(), body.KioskID, body.LockerID, body.RFIDCard, body.StartDate, body.EndDate, user)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, contract)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	f := event.Filter{
		KioskID:   r.URL.Query().Get("kiosk_id"),
		RFIDCard:  r.URL.Query().Get("rfid_card"),
		StaffUser: r.URL.Query().Get("staff_user"),
		EventType: r.URL.Query().Get("event_type"),
		Limit:     200,
	}
	records, err := s.events.Query(r.Context(), f)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, records)
}

func parseLockerID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "lockerID"))
}
