package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/hub"
	"rollcall/internal/models"
)

// Handler wires HTTP and WebSocket routes to the attendance engine.
type Handler struct {
	attendance *attendance.Service
	auth       *auth.Service
	hub        *hub.Hub
	baseURL    string
	upgrader   websocket.Upgrader
}

// NewHandler constructs a Handler instance. baseURL is the externally
// reachable origin used for QR links and WebSocket origin checks.
func NewHandler(att *attendance.Service, authService *auth.Service, eventHub *hub.Hub, baseURL string) *Handler {
	h := &Handler{
		attendance: att,
		auth:       authService,
		hub:        eventHub,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// RegisterRoutes attaches all routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/qr/:code", h.qrPNG)

	api := router.Group("/api")
	api.POST("/login", h.login)

	authMW := h.auth.Middleware()
	api.POST("/logout", authMW, h.logout)
	api.GET("/me", authMW, h.me)

	teacher := api.Group("/teacher", authMW, auth.RequireRole(models.RoleTeacher), h.auth.CSRFMiddleware())
	teacher.POST("/sessions", h.startSession)
	teacher.POST("/sessions/stop", h.stopSession)
	teacher.GET("/open-session", h.currentSession)
	teacher.GET("/sessions", h.sessionHistory)
	teacher.GET("/sessions/:id", h.sessionDetail)
	teacher.GET("/sessions/:id/export.csv", h.exportCSV)
	teacher.GET("/sessions/:id/export.xls", h.exportExcel)
	teacher.GET("/sessions/:id/live", h.liveFeed)

	student := api.Group("/attend", authMW, auth.RequireRole(models.RoleStudent), h.auth.CSRFMiddleware())
	student.GET("/:code", h.sessionByCode)
	student.POST("/:code/checkin", h.checkin)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"full_name":  user.FullName,
		"role":       user.Role,
		"auth_token": authToken,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if token, ok := auth.TokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":   identity.UserID,
		"name": identity.Name,
		"role": identity.Role,
	})
}

type startSessionRequest struct {
	Topic           string `json:"topic" binding:"required"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *Handler) startSession(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = 60
	}
	if req.DurationMinutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_minutes must be positive"})
		return
	}
	sess, err := h.attendance.OpenSession(c.Request.Context(), identity.UserID, req.Topic, req.DurationMinutes)
	if errors.Is(err, attendance.ErrInvalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session": sess,
		"qr_url":  h.attendURL(sess.Code),
	})
}

func (h *Handler) stopSession(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	if err := h.attendance.CloseSession(c.Request.Context(), identity.UserID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentSession(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	sess, err := h.attendance.GetOpenSession(c.Request.Context(), identity.UserID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}
	report, err := h.attendance.Roster(c.Request.Context(), sess.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":   sess,
		"accepting": attendance.IsAcceptingCheckins(sess, time.Now().UTC()),
		"qr_url":    h.attendURL(sess.Code),
		"roster":    report,
	})
}

func (h *Handler) sessionHistory(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	sessions, err := h.attendance.ListSessions(c.Request.Context(), identity.UserID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ownedSession resolves the :id parameter and enforces that the caller owns
// the session, writing the error response itself on failure.
func (h *Handler) ownedSession(c *gin.Context) (*models.Session, *auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, nil, false
	}
	sess, err := h.attendance.GetSessionForTeacher(c.Request.Context(), c.Param("id"), identity.UserID)
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, nil, false
	case errors.Is(err, attendance.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return nil, nil, false
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return nil, nil, false
	}
	return sess, identity, true
}

func (h *Handler) sessionDetail(c *gin.Context) {
	sess, _, ok := h.ownedSession(c)
	if !ok {
		return
	}
	report, err := h.attendance.Roster(c.Request.Context(), sess.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roster":                 report,
		"late_threshold_minutes": h.attendance.LateThreshold(),
	})
}

func (h *Handler) exportCSV(c *gin.Context) {
	h.export(c, "csv")
}

func (h *Handler) exportExcel(c *gin.Context) {
	h.export(c, "xls")
}

func (h *Handler) export(c *gin.Context, format string) {
	sess, identity, ok := h.ownedSession(c)
	if !ok {
		return
	}
	report, err := h.attendance.Roster(c.Request.Context(), sess.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	teacher, err := h.attendance.GetUser(c.Request.Context(), identity.UserID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}

	filename := fmt.Sprintf("attendance_%s_%s.%s",
		strings.ReplaceAll(sess.Topic, " ", "_"), shortID(sess.ID), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	switch format {
	case "csv":
		c.Header("Content-Type", "text/csv; charset=utf-8")
		err = attendance.WriteRosterCSV(c.Writer, report, teacher, h.attendance.LateThreshold())
	default:
		c.Header("Content-Type", "application/vnd.ms-excel; charset=utf-8")
		err = attendance.WriteRosterExcel(c.Writer, report, teacher, h.attendance.LateThreshold())
	}
	if err != nil {
		// Headers are gone; nothing sensible left to send.
		c.Abort()
	}
}

func (h *Handler) sessionByCode(c *gin.Context) {
	sess, err := h.attendance.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if errors.Is(err, attendance.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session code"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"topic":      sess.Topic,
		"code":       sess.Code,
		"started_at": sess.StartedAt,
		"expires_at": sess.ExpiresAt,
		"accepting":  attendance.IsAcceptingCheckins(sess, time.Now().UTC()),
	})
}

func (h *Handler) checkin(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	result, err := h.attendance.RecordCheckin(c.Request.Context(), c.Param("code"), identity.UserID, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable"})
		return
	}
	switch result.Outcome {
	case attendance.OutcomeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"outcome": result.Outcome, "error": "unknown session code"})
	case attendance.OutcomeClosed:
		c.JSON(http.StatusConflict, gin.H{"outcome": result.Outcome, "error": "session is closed or has expired"})
	case attendance.OutcomeAlreadyRecorded:
		c.JSON(http.StatusOK, gin.H{
			"outcome":   result.Outcome,
			"status":    result.Status,
			"timestamp": result.Checkin.Timestamp,
		})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"outcome":   result.Outcome,
			"status":    result.Status,
			"timestamp": result.Checkin.Timestamp,
		})
	}
}

func (h *Handler) qrPNG(c *gin.Context) {
	code := strings.TrimSuffix(c.Param("code"), ".png")
	if code == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "missing code"})
		return
	}
	png, err := qrcode.Encode(h.attendURL(code), qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render qr"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) attendURL(code string) string {
	return fmt.Sprintf("%s/s/%s", h.baseURL, code)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	maxAge := int(h.auth.TokenTTL().Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.auth.AuthCookieName(), authToken, maxAge, "/", "", false, true)
	c.SetCookie(h.auth.CSRFCookieName(), csrfToken, maxAge, "/", "", false, false)
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.auth.AuthCookieName(), "", -1, "/", "", false, true)
	c.SetCookie(h.auth.CSRFCookieName(), "", -1, "/", "", false, false)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
