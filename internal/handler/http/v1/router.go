package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shenikar/incident_dispatch/internal/models"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)

	secured := api.Group("", AuthMiddleware(h.auth, h.logger))

	// Инциденты и авторитетная смена статуса
	occurrences := secured.Group("/occurrences")
	{
		occurrences.POST("", h.createIncident)
		occurrences.GET("/:id", h.getIncident)
		occurrences.PATCH("/:id/status", h.updateStatus)
	}

	// Чат инцидента
	chat := secured.Group("/chat")
	{
		chat.POST("/occurrences/:id/chat", h.openChat)
		chat.GET("/chats/:id/messages", h.listMessages)
		chat.GET("/chats/:id/status", h.chatStatus)
	}

	// Резервный опрос предложений
	secured.GET("/notifications", h.listNotifications)
}

// RegisterRealtime подключает websocket и SSE-зеркало. Websocket проверяет
// личность первым событием authenticate, поэтому стоит вне middleware.
func (h *Handler) RegisterRealtime(api *gin.RouterGroup, ws http.Handler, mirror http.Handler) {
	api.GET("/ws", gin.WrapH(ws))
	api.GET("/events", AuthMiddleware(h.auth, h.logger), RequireRole(models.RoleSupervisor), gin.WrapH(mirror))
}
