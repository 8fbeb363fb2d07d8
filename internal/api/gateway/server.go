// Package gateway implements the northbound HTTP API (spec §6): kiosk
// provisioning and heartbeat, the command queue's HTTP face, and the
// staff-facing locker/command endpoints.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lockergrid/core/internal/api"
	apimw "github.com/lockergrid/core/internal/api/middleware"
	"github.com/lockergrid/core/internal/auth"
	"github.com/lockergrid/core/internal/config"
	"github.com/lockergrid/core/internal/health"
	"github.com/lockergrid/core/internal/heartbeat"
	"github.com/lockergrid/core/internal/provisioning"
	"github.com/lockergrid/core/internal/queue"
	"github.com/lockergrid/core/internal/staffops"
	"github.com/lockergrid/core/internal/store"
	"github.com/lockergrid/core/internal/zone"
)

// Server holds every collaborator the gateway's handlers need.
type Server struct {
	cfg          *config.Manager
	store        *store.Store
	queue        *queue.Manager
	heartbeat    *heartbeat.Manager
	provisioning *provisioning.Manager
	staffops     *staffops.Ops
	staffAuth    *auth.StaffSessions
	health         *health.Manager
	panelURL       string
	version        string
	allowedOrigins []string
}

type Config struct {
	ConfigManager *config.Manager
	Store         *store.Store
	Queue         *queue.Manager
	Heartbeat     *heartbeat.Manager
	Provisioning  *provisioning.Manager
	StaffOps      *staffops.Ops
	StaffAuth     *auth.StaffSessions
	Health        *health.Manager
	PanelURL       string
	Version        string
	AllowedOrigins []string
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg:            cfg.ConfigManager,
		store:          cfg.Store,
		queue:          cfg.Queue,
		heartbeat:      cfg.Heartbeat,
		provisioning:   cfg.Provisioning,
		staffops:       cfg.StaffOps,
		staffAuth:      cfg.StaffAuth,
		health:         cfg.Health,
		panelURL:       cfg.PanelURL,
		version:        cfg.Version,
		allowedOrigins: cfg.AllowedOrigins,
	}
}

// Router builds the chi router for the gateway role.
func (s *Server) Router() http.Handler {
	r := apimw.NewRouter(apimw.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.allowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "gateway",
		EnableLogging:         true,
	})

	r.Get("/health", s.health.ServeHealth)
	r.Get("/ready", s.health.ServeReady)

	r.Post("/provisioning/tokens", s.handleIssueToken)
	r.Post("/provisioning/register", s.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(auth.KioskAuth(s.provisioning))
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Get("/commands", s.handlePollCommands)
		r.Post("/commands/{id}/complete", s.handleCommandComplete)
		r.Post("/commands/{id}/fail", s.handleCommandFail)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.staffAuth.Middleware)
		r.Post("/command", s.handleStaffCommand)
		r.Get("/lockers/available", s.handleLockersAvailable)
		r.Get("/lockers/all", s.handleLockersAll)
		r.Post("/locker/open", s.handleLockerOpen)
	})

	return r
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Zone string `json:"zone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	kioskID := "kiosk-" + uuid.NewString()[:8]
	token, expiresAt, err := s.provisioning.IssueToken(r.Context(), kioskID, body.Zone)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]any{
		"token": token, "kiosk_id": kioskID, "expires_at": expiresAt,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token      string `json:"token"`
		HardwareID string `json:"hardware_id"`
		Zone       string `json:"zone"`
		Version    string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	kioskID, secret, err := s.provisioning.Register(r.Context(), body.Token, body.HardwareID, body.Version)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]any{
		"kiosk_id": kioskID, "registration_secret": secret, "panel_url": s.panelURL,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		KioskID    string `json:"kiosk_id"`
		Version    string `json:"version"`
		ConfigHash string `json:"config_hash"`
		Restarted  bool   `json:"restarted"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	kioskID, _ := auth.KioskIDFromContext(r.Context())

	rec, err := s.heartbeat.Ping(r.Context(), kioskID, body.Version, body.ConfigHash)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}

	pending := 0
	if body.Restarted {
		reason := body.Reason
		if reason == "" {
			reason = "power_interruption"
		}
		if _, err := s.queue.Clear(r.Context(), kioskID, reason); err != nil {
			api.WriteError(w, r, api.Translate(err))
			return
		}
	} else if n, err := s.queue.PendingCount(r.Context(), kioskID); err == nil {
		pending = n
	}

	api.JSON(w, r, http.StatusOK, map[string]any{
		"config_hash":      s.cfg.Hash(),
		"commands_pending": pending,
		"stored_hash":      rec.LastConfigHash,
	})
}

func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	kioskID := r.URL.Query().Get("kiosk_id")
	if kioskID == "" {
		api.WriteError(w, r, api.Validation("MISSING_KIOSK_ID", "kiosk_id is required"))
		return
	}
	batch := 10
	if v := r.URL.Query().Get("max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			batch = n
		}
	}
	cmds, err := s.queue.Poll(r.Context(), kioskID, kioskID, batch)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, cmds)
}

func (s *Server) handleCommandComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.MarkComplete(r.Context(), id); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleCommandFail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.queue.MarkFailed(r.Context(), id, body.Error); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"status": "failed"})
}

func (s *Server) handleStaffCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type      string         `json:"type"`
		KioskID   string         `json:"kiosk_id"`
		LockerID  *int           `json:"locker_id"`
		Payload   map[string]any `json:"payload"`
		IssuedBy  string         `json:"issued_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	cmdType, ok := staffCommandType(body.Type)
	if !ok {
		api.WriteError(w, r, api.Validation("INVALID_COMMAND_TYPE", body.Type))
		return
	}
	payload := body.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if body.LockerID != nil {
		payload["locker_id"] = *body.LockerID
	}
	commandID, err := s.queue.Enqueue(r.Context(), body.KioskID, cmdType, payload, 3)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"command_id": commandID})
}

func staffCommandType(t string) (queue.Type, bool) {
	switch t {
	case "open":
		return queue.TypeOpenLocker, true
	case "close":
		return queue.TypeCloseLocker, true
	case "reset":
		return queue.TypeResetLocker, true
	case "buzzer":
		return queue.TypeBuzzer, true
	default:
		return "", false
	}
}

func (s *Server) resolveZoneFilter(r *http.Request) ([]int, *api.Error) {
	zoneID := r.URL.Query().Get("zone")
	if zoneID == "" {
		return nil, nil
	}
	z, ok := zone.ByID(s.cfg.Get(), zoneID)
	if !ok {
		return nil, api.Validation("INVALID_ZONE", "unknown zone: "+zoneID)
	}
	return zone.LockersInZone(z), nil
}

func (s *Server) handleLockersAvailable(w http.ResponseWriter, r *http.Request) {
	kioskID := r.URL.Query().Get("kiosk_id")
	ids, apiErr := s.resolveZoneFilter(r)
	if apiErr != nil {
		api.WriteError(w, r, apiErr)
		return
	}
	lockers, err := s.store.Available(r.Context(), kioskID, ids)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, lockers)
}

func (s *Server) handleLockersAll(w http.ResponseWriter, r *http.Request) {
	kioskID := r.URL.Query().Get("kiosk_id")
	ids, apiErr := s.resolveZoneFilter(r)
	if apiErr != nil {
		api.WriteError(w, r, apiErr)
		return
	}
	lockers, err := s.store.All(r.Context(), kioskID, ids)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, lockers)
}

func (s *Server) handleLockerOpen(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LockerID  int    `json:"locker_id"`
		KioskID   string `json:"kiosk_id"`
		StaffUser string `json:"staff_user"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	if zoneID := r.URL.Query().Get("zone"); zoneID != "" {
		z, ok := zone.ByID(s.cfg.Get(), zoneID)
		if !ok {
			api.WriteError(w, r, api.Validation("INVALID_ZONE", "unknown zone: "+zoneID))
			return
		}
		if !zone.InZone(z, body.LockerID) {
			api.WriteError(w, r, api.Semantic("LOCKER_ZONE_MISMATCH", "locker does not belong to zone"))
			return
		}
	}

	actor := staffops.Actor{User: body.StaffUser}
	commandID, err := s.staffops.StaffOpen(r.Context(), actor, body.KioskID, body.LockerID, body.Reason)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]string{"command_id": commandID})
}
