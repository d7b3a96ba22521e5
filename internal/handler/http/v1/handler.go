package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/service"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	incidentService service.IncidentService
	chatService     service.ChatService
	auth            Authenticator
	logger          *logrus.Logger
	validate        *validator.Validate
}

func NewHandler(incidentService service.IncidentService, chatService service.ChatService, auth Authenticator, logger *logrus.Logger) *Handler {
	return &Handler{
		incidentService: incidentService,
		chatService:     chatService,
		auth:            auth,
		logger:          logger,
		validate:        validator.New(),
	}
}

// @Summary Create a new incident
// @Description Create a new incident in status EM_ABERTO and dispatch offers to responders.
// @Tags Occurrences
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param incident body CreateIncidentRequest true "Incident creation request"
// @Success 201 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /occurrences [post]
func (h *Handler) createIncident(c *gin.Context) {
	var input CreateIncidentRequest
	log := h.logger.WithField("method", "createIncident")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	model := DTOToIncidentModel(input)
	if err := h.incidentService.CreateIncident(c.Request.Context(), identityFrom(c), model); err != nil {
		h.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentResponse(model))
}

// @Summary Get incident by ID
// @Tags Occurrences
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /occurrences/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, ok := h.parseID(c, "invalid incident ID")
	if !ok {
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, err := h.incidentService.GetIncident(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Change incident status
// @Description Authoritative status transition. With expected_status the change is a compare-and-set, a stale expectation returns 409.
// @Tags Occurrences
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Param status body UpdateStatusRequest true "Target status"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid status or transition"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Transition rejected"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /occurrences/{id}/status [patch]
func (h *Handler) updateStatus(c *gin.Context) {
	id, ok := h.parseID(c, "invalid incident ID")
	if !ok {
		return
	}
	log := h.logger.WithField("method", "updateStatus").WithField("id", id)

	var input UpdateStatusRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var expected *models.Status
	if input.ExpectedStatus != nil {
		st := models.Status(*input.ExpectedStatus)
		expected = &st
	}

	incident, err := h.incidentService.UpdateStatus(c.Request.Context(), identityFrom(c), id, models.Status(input.Status), expected)
	if err != nil {
		h.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Open incidents for the caller
// @Description Polling fallback for dispatch offers. Roles that do not receive offers get an empty list.
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {array} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /notifications [get]
func (h *Handler) listNotifications(c *gin.Context) {
	log := h.logger.WithField("method", "listNotifications")

	incidents, err := h.incidentService.ListOpen(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Get or create the chat session of an incident
// @Tags Chat
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} OpenChatResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 503 {object} map[string]string "Session unavailable"
// @Router /chat/occurrences/{id}/chat [post]
func (h *Handler) openChat(c *gin.Context) {
	id, ok := h.parseID(c, "invalid incident ID")
	if !ok {
		return
	}
	log := h.logger.WithField("method", "openChat").WithField("incident_id", id)

	session, err := h.chatService.OpenSession(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, OpenChatResponse{Chat: ChatRef{ID: session.ID, IncidentID: session.IncidentID}})
}

// @Summary Chat history
// @Tags Chat
// @Produce json
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Success 200 {array} MessageResponse
// @Failure 400 {object} map[string]string "Invalid chat ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Chat not found"
// @Router /chat/chats/{id}/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	id, ok := h.parseID(c, "invalid chat ID")
	if !ok {
		return
	}
	log := h.logger.WithField("method", "listMessages").WithField("chat_id", id)

	msgs, err := h.chatService.History(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToMessageResponses(msgs))
}

// @Summary Chat session status
// @Tags Chat
// @Produce json
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Success 200 {object} ChatStatusResponse
// @Failure 400 {object} map[string]string "Invalid chat ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Chat not found"
// @Router /chat/chats/{id}/status [get]
func (h *Handler) chatStatus(c *gin.Context) {
	id, ok := h.parseID(c, "invalid chat ID")
	if !ok {
		return
	}
	log := h.logger.WithField("method", "chatStatus").WithField("chat_id", id)

	st, err := h.chatService.SessionStatus(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToChatStatusResponse(st))
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) parseID(c *gin.Context, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return uuid.Nil, false
	}
	return id, true
}

// writeError переводит ошибку сервиса в HTTP-ответ
func (h *Handler) writeError(c *gin.Context, log *logrus.Entry, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, models.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	case errors.Is(err, models.ErrForbidden):
		log.WithError(err).Warn("Forbidden")
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrTransitionRejected):
		log.WithError(err).Info("Transition rejected")
		c.JSON(http.StatusConflict, gin.H{"error": "status transition rejected"})
	case errors.Is(err, models.ErrChatLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "chat is read-only"})
	case errors.Is(err, models.ErrSessionUnavailable):
		log.WithError(err).Error("Chat session unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat session unavailable"})
	default:
		log.WithError(err).Error("Request failed in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
