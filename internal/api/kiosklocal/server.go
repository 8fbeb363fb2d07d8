// Package kiosklocal implements the kiosk's own LAN-facing HTTP surface
// (spec §6 "Kiosk HTTP (local LAN)"): the QR landing/action endpoints
// (spec §4.7) and the RFID user flow (spec §4.8), both driven against a
// single kiosk's own State Store row set and hardware Manager.
package kiosklocal

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lockergrid/core/internal/api"
	apimw "github.com/lockergrid/core/internal/api/middleware"
	"github.com/lockergrid/core/internal/config"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/hardware"
	"github.com/lockergrid/core/internal/health"
	"github.com/lockergrid/core/internal/log"
	"github.com/lockergrid/core/internal/qrproto"
	"github.com/lockergrid/core/internal/ratelimit"
	"github.com/lockergrid/core/internal/rfidsession"
	"github.com/lockergrid/core/internal/store"
	"github.com/lockergrid/core/internal/zone"
)

// Server handles one kiosk's local LAN traffic: phones scanning the QR
// sticker on a locker door, and the kiosk's own RFID reader and touch UI.
type Server struct {
	kioskID string
	zoneID  string
	cfgMgr  *config.Manager
	store   *store.Store
	hw      *hardware.Manager
	issuer  *qrproto.Issuer
	limiter *ratelimit.Limiter
	rfid    *rfidsession.Manager
	events  *event.Logger
	health  *health.Manager
}

type Config struct {
	KioskID      string
	ZoneID       string
	ConfigMgr    *config.Manager
	Store        *store.Store
	Hardware     *hardware.Manager
	Issuer       *qrproto.Issuer
	Limiter      *ratelimit.Limiter
	RFIDSessions *rfidsession.Manager
	Events       *event.Logger
	Health       *health.Manager
}

func NewServer(cfg Config) *Server {
	return &Server{
		kioskID: cfg.KioskID, zoneID: cfg.ZoneID,
		cfgMgr: cfg.ConfigMgr, store: cfg.Store, hw: cfg.Hardware,
		issuer: cfg.Issuer, limiter: cfg.Limiter, rfid: cfg.RFIDSessions,
		events: cfg.Events, health: cfg.Health,
	}
}

// Router builds the chi router for the kiosk-local role. No CORS: every
// caller is either the locker door's own landing page (same-origin fetch)
// or the kiosk's own touchscreen UI.
func (s *Server) Router() http.Handler {
	r := apimw.NewRouter(apimw.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "kiosk",
		EnableLogging:         true,
	})

	r.Get("/health", s.handleHealth)
	r.Get("/lock/{id}", s.handleLockPage)
	r.Post("/act", s.handleAct)

	r.Post("/rfid/scan", s.handleRFIDScan)
	r.Get("/rfid/session", s.handleRFIDSession)
	r.Post("/rfid/select", s.handleRFIDSelect)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.health.Health(r.Context(), false)
	body := map[string]any{
		"status":   resp.Status,
		"version":  resp.Version,
		"uptime_s": resp.Uptime,
		"kiosk_id": s.kioskID,
	}
	if s.zoneID != "" {
		body["kiosk_zone"] = s.zoneID
	}
	api.JSON(w, r, http.StatusOK, body)
}

func parseLockerID(raw string) (int, error) {
	var id int
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid locker id %q", raw)
	}
	return id, nil
}

// handleLockPage serves the QR landing page: it binds a fresh action
// token to the scanning device and the door's locker id (spec §4.7).
func (s *Server) handleLockPage(w http.ResponseWriter, r *http.Request) {
	if !qrproto.CheckOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	lockerID, err := parseLockerID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	deviceID, err := qrproto.EnsureDeviceID(w, r)
	if err != nil {
		http.Error(w, "could not assign device id", http.StatusInternalServerError)
		return
	}

	locker, err := s.store.LookupLocker(r.Context(), s.kioskID, lockerID)
	if err != nil {
		http.Error(w, "locker not found", http.StatusNotFound)
		return
	}
	if locker.IsVIP {
		http.Error(w, qrproto.VipLockedMessage, http.StatusLocked)
		return
	}

	action := qrproto.ActionAssign
	if locker.Status == store.StatusOwned && locker.OwnerType == store.OwnerDevice &&
		locker.OwnerKey != nil && *locker.OwnerKey == deviceID {
		action = qrproto.ActionRelease
	} else if locker.Status != store.StatusFree {
		http.Error(w, "locker is busy", http.StatusConflict)
		return
	}

	token, err := s.issuer.Issue(lockerID, deviceID, action)
	if err != nil {
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = lockPageTemplate.Execute(w, lockPageData{
		LockerID: lockerID, Action: string(action), Token: token,
	})
}

type lockPageData struct {
	LockerID int
	Action   string
	Token    string
}

var lockPageTemplate = template.Must(template.New("lock").Parse(`<!DOCTYPE html>
<html lang="tr"><head><meta charset="utf-8"><title>Dolap {{.LockerID}}</title></head>
<body>
<h1>Dolap {{.LockerID}}</h1>
<p id="status">Hazır</p>
<button id="go" data-action="{{.Action}}">{{if eq .Action "release"}}Aç ve Bırak{{else}}Kilidi Aç{{end}}</button>
<script>
document.getElementById('go').addEventListener('click', async function () {
  var res = await fetch('/act', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({token: {{.Token}}, locker_id: {{.LockerID}}})
  });
  var body = await res.json();
  document.getElementById('status').textContent = body.message || (res.ok ? 'Tamam' : 'Hata');
});
</script>
</body></html>`))

type actRequest struct {
	Token    string `json:"token"`
	LockerID int    `json:"locker_id"`
}

type actResponse struct {
	Success  bool   `json:"success"`
	Action   string `json:"action,omitempty"`
	Message  string `json:"message"`
	LockerID int    `json:"locker_id"`
}

// handleAct executes the action token minted by handleLockPage.
func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	if !qrproto.CheckOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	var body actRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	deviceID, err := qrproto.EnsureDeviceID(w, r)
	if err != nil {
		api.WriteError(w, r, api.Internal("DEVICE_ID_FAILED", err.Error()))
		return
	}

	ctx := r.Context()
	ip := clientIP(r)
	for _, d := range []struct{ class, key string }{
		{"qr_ip", ip},
		{"qr_locker", fmt.Sprintf("%d", body.LockerID)},
		{"qr_device", deviceID},
	} {
		decision, err := s.limiter.Allow(ctx, d.class, d.key)
		if err != nil {
			api.WriteError(w, r, api.Internal("RATE_LIMIT_FAILED", err.Error()))
			return
		}
		if !decision.Allowed {
			api.WriteRateLimited(w, r, int(decision.RetryAfter.Seconds()))
			return
		}
	}

	action, err := s.issuer.Validate(body.Token, body.LockerID, deviceID)
	if err != nil {
		api.WriteError(w, r, api.Validation("TOKEN_INVALID", err.Error()))
		return
	}

	locker, err := s.store.LookupLocker(ctx, s.kioskID, body.LockerID)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if locker.IsVIP {
		if action == qrproto.ActionRelease {
			if err := s.hw.OpenLocker(ctx, body.LockerID); err != nil {
				api.WriteError(w, r, api.Internal("HARDWARE_FAILED", err.Error()))
				return
			}
			_ = s.events.AppendTyped(ctx, &s.kioskID, &body.LockerID, event.TypeVipAccess, "", "", event.VipAccessPayload{OwnerUnchanged: true})
			api.JSON(w, r, http.StatusOK, actResponse{Success: true, Action: string(action), Message: "Açıldı", LockerID: body.LockerID})
			return
		}
		api.WriteError(w, r, &api.Error{Status: http.StatusLocked, Code: "VIP_LOCKED", Message: qrproto.VipLockedMessage})
		return
	}

	switch action {
	case qrproto.ActionAssign:
		s.assign(w, r, body.LockerID, deviceID)
	case qrproto.ActionRelease:
		s.release(w, r, body.LockerID, deviceID)
	default:
		api.WriteError(w, r, api.Validation("UNKNOWN_ACTION", string(action)))
	}
}

func (s *Server) assign(w http.ResponseWriter, r *http.Request, lockerID int, deviceID string) {
	ctx := r.Context()
	if _, err := s.store.Reserve(ctx, s.kioskID, lockerID, store.OwnerDevice, deviceID); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if _, err := s.store.BeginOpening(ctx, s.kioskID, lockerID); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if err := s.hw.OpenLocker(ctx, lockerID); err != nil {
		if _, relErr := s.store.EndOpening(ctx, s.kioskID, lockerID, store.StatusFree); relErr != nil {
			log.FromContext(ctx).Error().Err(relErr).Msg("kiosklocal: release after hardware failure")
		}
		api.WriteError(w, r, api.Internal("HARDWARE_FAILED", err.Error()))
		return
	}
	if _, err := s.store.EndOpening(ctx, s.kioskID, lockerID, store.StatusOwned); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	_ = s.events.AppendTyped(ctx, &s.kioskID, &lockerID, event.TypeQRAssign, "", "", event.OpenLockerPayload{OwnerType: string(store.OwnerDevice), OwnerKey: deviceID})
	api.JSON(w, r, http.StatusOK, actResponse{Success: true, Action: "assign", Message: "Kilidi açıldı", LockerID: lockerID})
}

func (s *Server) release(w http.ResponseWriter, r *http.Request, lockerID int, deviceID string) {
	ctx := r.Context()
	cur, err := s.store.LookupLocker(ctx, s.kioskID, lockerID)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if cur.OwnerKey == nil || *cur.OwnerKey != deviceID {
		api.WriteError(w, r, api.Translate(store.ErrNotOwner))
		return
	}
	if _, err := s.store.BeginOpening(ctx, s.kioskID, lockerID); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if err := s.hw.OpenLocker(ctx, lockerID); err != nil {
		if _, relErr := s.store.EndOpening(ctx, s.kioskID, lockerID, store.StatusOwned); relErr != nil {
			log.FromContext(ctx).Error().Err(relErr).Msg("kiosklocal: restore owned after hardware failure")
		}
		api.WriteError(w, r, api.Internal("HARDWARE_FAILED", err.Error()))
		return
	}
	if _, err := s.store.EndOpening(ctx, s.kioskID, lockerID, store.StatusFree); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	_ = s.events.AppendTyped(ctx, &s.kioskID, &lockerID, event.TypeQRRelease, "", "", event.OpenLockerPayload{OwnerType: string(store.OwnerDevice), OwnerKey: deviceID})
	api.JSON(w, r, http.StatusOK, actResponse{Success: true, Action: "release", Message: "Dolap boşaltıldı", LockerID: lockerID})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// handleRFIDScan is called by the RFID reader driver (or a local
// integration harness standing in for it) for every card tap. It
// implements the full spec §4.8 decision tree.
func (s *Server) handleRFIDScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UID string `json:"uid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	uid, ownerKey, err := rfidsession.NormalizeUID(body.UID)
	if err != nil {
		api.WriteError(w, r, api.Validation("SHORT_UID", err.Error()))
		return
	}

	ctx := r.Context()
	now := time.Now()
	if s.rfid.Debounced(s.kioskID, uid, now) {
		api.JSON(w, r, http.StatusOK, map[string]string{"result": "debounced"})
		return
	}

	existing, err := s.store.LookupByOwner(ctx, store.OwnerRFID, ownerKey)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if existing != nil {
		if !existing.IsVIP {
			if _, err := s.store.BeginOpening(ctx, s.kioskID, existing.LockerID); err != nil {
				api.WriteError(w, r, api.Translate(err))
				return
			}
			if err := s.hw.OpenLocker(ctx, existing.LockerID); err != nil {
				if _, relErr := s.store.EndOpening(ctx, s.kioskID, existing.LockerID, store.StatusOwned); relErr != nil {
					log.FromContext(ctx).Error().Err(relErr).Msg("kiosklocal: restore owned after rfid hardware failure")
				}
				api.WriteError(w, r, api.Internal("HARDWARE_FAILED", err.Error()))
				return
			}
			if _, err := s.store.EndOpening(ctx, s.kioskID, existing.LockerID, store.StatusFree); err != nil {
				api.WriteError(w, r, api.Translate(err))
				return
			}
			_ = s.events.AppendTyped(ctx, &s.kioskID, &existing.LockerID, event.TypeRFIDRelease, body.UID, "", nil)
		} else {
			// VIP taps are access-only: open the door, never touch ownership.
			if err := s.hw.OpenLocker(ctx, existing.LockerID); err != nil {
				api.WriteError(w, r, api.Internal("HARDWARE_FAILED", err.Error()))
				return
			}
			_ = s.events.AppendTyped(ctx, &s.kioskID, &existing.LockerID, event.TypeVipAccess, body.UID, "", nil)
		}
		api.JSON(w, r, http.StatusOK, map[string]any{"result": "opened", "locker_id": existing.LockerID})
		return
	}

	available, err := s.availableLockerIDs(ctx)
	if err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	session := s.rfid.Open(s.kioskID, uid, ownerKey, available, now)
	api.JSON(w, r, http.StatusOK, map[string]any{
		"result": "session_opened", "available": session.Available, "expires_at": session.OpenedAt.Add(20 * time.Second).UnixMilli(),
	})
}

// availableLockerIDs lists Free, non-VIP, enabled lockers, filtered to
// this kiosk's configured zone when one is set (spec §4.8 step 3).
func (s *Server) availableLockerIDs(ctx context.Context) ([]int, error) {
	var zoneLockerIDs []int
	if s.zoneID != "" {
		if z, ok := zone.ByID(s.cfgMgr.Get(), s.zoneID); ok {
			zoneLockerIDs = zone.LockersInZone(z)
		}
	}
	lockers, err := s.store.Available(ctx, s.kioskID, zoneLockerIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(lockers))
	for _, l := range lockers {
		ids = append(ids, l.LockerID)
	}
	return ids, nil
}

func (s *Server) handleRFIDSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.rfid.Get(s.kioskID, time.Now())
	if !ok {
		api.WriteError(w, r, api.NotFound("NO_SESSION", "no open rfid session for this kiosk"))
		return
	}
	api.JSON(w, r, http.StatusOK, map[string]any{
		"uid": session.UID, "available": session.Available,
		"expires_at": session.OpenedAt.Add(20 * time.Second).UnixMilli(),
	})
}

func (s *Server) handleRFIDSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LockerID int `json:"locker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.WriteError(w, r, api.Validation("INVALID_BODY", err.Error()))
		return
	}
	ctx := r.Context()
	session, ok := s.rfid.Get(s.kioskID, time.Now())
	if !ok {
		api.WriteError(w, r, api.NotFound("NO_SESSION", "no open rfid session for this kiosk"))
		return
	}

	found := false
	for _, id := range session.Available {
		if id == body.LockerID {
			found = true
			break
		}
	}
	if !found {
		api.WriteError(w, r, api.Validation("LOCKER_NOT_AVAILABLE", "locker not in session's available list"))
		return
	}

	if _, err := s.store.Reserve(ctx, s.kioskID, body.LockerID, store.OwnerRFID, session.OwnerKey); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if _, err := s.store.BeginOpening(ctx, s.kioskID, body.LockerID); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	if err := s.hw.OpenLocker(ctx, body.LockerID); err != nil {
		if _, relErr := s.store.EndOpening(ctx, s.kioskID, body.LockerID, store.StatusFree); relErr != nil {
			log.FromContext(ctx).Error().Err(relErr).Msg("kiosklocal: release after rfid hardware failure")
		}
		api.WriteError(w, r, api.Internal("HARDWARE_FAILED", err.Error()))
		return
	}
	if _, err := s.store.EndOpening(ctx, s.kioskID, body.LockerID, store.StatusOwned); err != nil {
		api.WriteError(w, r, api.Translate(err))
		return
	}
	s.rfid.Close(s.kioskID)
	_ = s.events.AppendTyped(ctx, &s.kioskID, &body.LockerID, event.TypeRFIDAssign, session.UID, "", event.OpenLockerPayload{OwnerType: string(store.OwnerRFID), OwnerKey: session.OwnerKey})
	api.JSON(w, r, http.StatusOK, map[string]any{"result": "assigned", "locker_id": body.LockerID})
}
