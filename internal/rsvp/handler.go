package rsvp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"clubhub/internal/auth"
	"clubhub/internal/event"
)

// Handler exposes the registration core over HTTP.
type Handler struct {
	svc     *Service
	catalog *event.Repository
	log     *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(svc *Service, catalog *event.Repository, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, catalog: catalog, log: log}
}

// Routes registers the RSVP and event endpoints on an authenticated group.
func (h *Handler) Routes(g *gin.RouterGroup) {
	g.POST("/events", auth.RequireRole(auth.RoleAdmin), h.CreateEvent)
	g.GET("/events/:eventId", h.GetEvent)

	g.POST("/rsvp", h.Register)
	g.GET("/rsvp/my-registrations", h.MyRegistrations)
	g.GET("/rsvp/event/:eventId", h.EventRegistrations)
	g.GET("/rsvp/stats/:eventId", h.Stats)
	g.PUT("/rsvp/:rsvpId", h.Update)
	g.DELETE("/rsvp/:rsvpId", h.Cancel)
	g.POST("/rsvp/:rsvpId/check-in", h.CheckIn)
	g.GET("/rsvp/:rsvpId/qr-code", h.QRCode)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError translates domain errors into HTTP responses. Not-started and
// ended windows get distinct codes so the client can word the message.
func (h *Handler) respondError(c *gin.Context, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, ErrEventNotFound):
		status, code = http.StatusNotFound, "event_not_found"
	case errors.Is(err, ErrRegistrationNotFound):
		status, code = http.StatusNotFound, "registration_not_found"
	case errors.Is(err, ErrRegistrationNotStarted):
		status, code = http.StatusConflict, "registration_not_started"
	case errors.Is(err, ErrRegistrationEnded):
		status, code = http.StatusConflict, "registration_closed"
	case errors.Is(err, ErrAlreadyRegistered):
		status, code = http.StatusConflict, "already_registered"
	case errors.Is(err, ErrAlreadyCheckedIn):
		status, code = http.StatusConflict, "already_checked_in"
	case errors.Is(err, ErrNotConfirmed):
		status, code = http.StatusConflict, "not_confirmed"
	case errors.Is(err, ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	default:
		h.log.Error("internal error", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
		return
	}
	c.JSON(status, errorBody{Error: err.Error(), Code: code})
}

// canManageEvent reports whether the caller may act as the event's organizer.
func canManageEvent(claims auth.Claims, ev *event.Event) bool {
	if claims.IsAdmin() {
		return true
	}
	return claims.Role == auth.RoleOrganizer && claims.UserID() == ev.OrganizerID
}

func listOptionsFromQuery(c *gin.Context) ListOptions {
	var opts ListOptions
	if v := c.Query("status"); v != "" {
		opts.Status = Status(v)
	}
	if v, err := strconv.Atoi(c.Query("page")); err == nil {
		opts.Page = v
	}
	if v, err := strconv.Atoi(c.Query("per_page")); err == nil {
		opts.PerPage = v
	}
	return opts
}

// ---------- Events (catalog boundary) ----------

// CreateEvent handles POST /v1/events (admin).
func (h *Handler) CreateEvent(c *gin.Context) {
	var req event.CreateParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"})
		return
	}
	if !req.RegistrationEnd.After(req.RegistrationStart) {
		c.JSON(http.StatusBadRequest, errorBody{Error: "registration_end must be after registration_start", Code: "validation_error"})
		return
	}
	if req.MaxParticipants != nil && *req.MaxParticipants <= 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: "max_participants must be positive or omitted", Code: "validation_error"})
		return
	}
	ev, err := h.catalog.Create(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// GetEvent handles GET /v1/events/:eventId.
func (h *Handler) GetEvent(c *gin.Context) {
	ev, err := h.svc.Event(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// ---------- RSVP ----------

type registerRequest struct {
	EventID    string         `json:"event_id" binding:"required"`
	Contact    ContactInfo    `json:"contact_info" binding:"required"`
	Additional AdditionalInfo `json:"additional_info"`
}

// Register handles POST /v1/rsvp. A full event is not an error: the caller
// is waitlisted and the response says so.
func (h *Handler) Register(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"})
		return
	}

	reg, err := h.svc.Register(c.Request.Context(), req.EventID, claims.UserID(), RegisterInput{
		Contact:    req.Contact,
		Additional: req.Additional,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"registration": reg,
		"waitlisted":   reg.Status == StatusWaitlist,
	})
}

// MyRegistrations handles GET /v1/rsvp/my-registrations.
func (h *Handler) MyRegistrations(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	opts := listOptionsFromQuery(c)
	regs, total, err := h.svc.MyRegistrations(c.Request.Context(), claims.UserID(), opts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if regs == nil {
		regs = []Registration{}
	}
	c.JSON(http.StatusOK, gin.H{"registrations": regs, "total": total})
}

// EventRegistrations handles GET /v1/rsvp/event/:eventId (organizer/admin).
// With export=true the full unpaginated list is returned for CSV-style export.
func (h *Handler) EventRegistrations(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	eventID := c.Param("eventId")

	ev, err := h.svc.Event(c.Request.Context(), eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !canManageEvent(claims, ev) {
		h.respondError(c, ErrForbidden)
		return
	}

	opts := listOptionsFromQuery(c)
	opts.Export = c.Query("export") == "true"
	regs, total, breakdown, err := h.svc.EventRegistrations(c.Request.Context(), eventID, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if regs == nil {
		regs = []Registration{}
	}
	c.JSON(http.StatusOK, gin.H{
		"registrations": regs,
		"total":         total,
		"stats":         breakdown,
	})
}

type updateRequest struct {
	Contact    *ContactInfo    `json:"contact_info"`
	Additional *AdditionalInfo `json:"additional_info"`
	Status     *Status         `json:"status"`
	AdminNote  string          `json:"admin_note"`
}

// Update handles PUT /v1/rsvp/:rsvpId. Info edits are open to the owner and
// admins. Status changes are restricted: owners may cancel; admins may also
// confirm (payment completion) or mark no-show.
func (h *Handler) Update(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	id := c.Param("rsvpId")

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"})
		return
	}

	reg, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	isOwner := reg.UserID == claims.UserID()
	if !isOwner && !claims.IsAdmin() {
		h.respondError(c, ErrForbidden)
		return
	}

	if req.Status != nil {
		switch *req.Status {
		case StatusCancelled:
			note := ""
			if claims.IsAdmin() {
				note = req.AdminNote
			}
			cancelled, promoted, err := h.svc.Cancel(c.Request.Context(), id, claims.UserID(), note)
			if err != nil {
				h.respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"registration": cancelled, "promoted": promoted != nil})
			return
		case StatusConfirmed:
			if !claims.IsAdmin() {
				h.respondError(c, ErrForbidden)
				return
			}
			updated, err := h.svc.ConfirmPayment(c.Request.Context(), id)
			if err != nil {
				h.respondError(c, err)
				return
			}
			h.noteIfPresent(c, id, claims.UserID(), req.AdminNote)
			c.JSON(http.StatusOK, gin.H{"registration": updated})
			return
		case StatusNoShow:
			if !claims.IsAdmin() {
				h.respondError(c, ErrForbidden)
				return
			}
			updated, err := h.svc.MarkNoShow(c.Request.Context(), id)
			if err != nil {
				h.respondError(c, err)
				return
			}
			h.noteIfPresent(c, id, claims.UserID(), req.AdminNote)
			c.JSON(http.StatusOK, gin.H{"registration": updated})
			return
		default:
			c.JSON(http.StatusBadRequest, errorBody{Error: "status may only be set to cancelled, confirmed or no-show", Code: "validation_error"})
			return
		}
	}

	updated, err := h.svc.UpdateInfo(c.Request.Context(), id, UpdateInput{
		Contact:    req.Contact,
		Additional: req.Additional,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if claims.IsAdmin() {
		h.noteIfPresent(c, id, claims.UserID(), req.AdminNote)
	}
	c.JSON(http.StatusOK, gin.H{"registration": updated})
}

func (h *Handler) noteIfPresent(c *gin.Context, id, author, note string) {
	if note == "" {
		return
	}
	if err := h.svc.AddAdminNote(c.Request.Context(), id, author, note); err != nil {
		h.log.Warn("append admin note failed", "registration", id, "err", err)
	}
}

// Cancel handles DELETE /v1/rsvp/:rsvpId. The response reports whether a
// waitlisted registration was promoted into the freed slot.
func (h *Handler) Cancel(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	id := c.Param("rsvpId")

	reg, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if reg.UserID != claims.UserID() && !claims.IsAdmin() {
		h.respondError(c, ErrForbidden)
		return
	}

	cancelled, promoted, err := h.svc.Cancel(c.Request.Context(), id, claims.UserID(), "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registration": cancelled, "promoted": promoted != nil})
}

type checkInRequest struct {
	CheckInCode string `json:"check_in_code"`
}

// CheckIn handles POST /v1/rsvp/:rsvpId/check-in (organizer/admin).
func (h *Handler) CheckIn(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	id := c.Param("rsvpId")

	var req checkInRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"})
			return
		}
	}

	reg, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ev, err := h.svc.Event(c.Request.Context(), reg.EventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !canManageEvent(claims, ev) {
		h.respondError(c, ErrForbidden)
		return
	}

	receipt, err := h.svc.CheckIn(c.Request.Context(), id, req.CheckInCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// QRCode handles GET /v1/rsvp/:rsvpId/qr-code (owner only).
func (h *Handler) QRCode(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	id := c.Param("rsvpId")

	reg, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if reg.UserID != claims.UserID() {
		h.respondError(c, ErrForbidden)
		return
	}

	code, err := h.svc.QRCode(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// Stats handles GET /v1/rsvp/stats/:eventId (organizer/admin).
func (h *Handler) Stats(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	eventID := c.Param("eventId")

	ev, err := h.svc.Event(c.Request.Context(), eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !canManageEvent(claims, ev) {
		h.respondError(c, ErrForbidden)
		return
	}

	stats, err := h.svc.Stats(c.Request.Context(), eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
