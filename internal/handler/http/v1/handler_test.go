package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/auth"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testSecret = "test-secret"

type testDeps struct {
	incidents *mocks.MockIncidentService
	chats     *mocks.MockChatService
	router    *gin.Engine
}

// newTestHandler создает Handler с мокированными сервисами и настоящей проверкой JWT
func newTestHandler(t *testing.T) *testDeps {
	ctrl := gomock.NewController(t)
	deps := &testDeps{
		incidents: mocks.NewMockIncidentService(ctrl),
		chats:     mocks.NewMockChatService(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	handler := NewHandler(deps.incidents, deps.chats, auth.JWTer{SecretKey: testSecret}, logger)

	gin.SetMode(gin.TestMode)
	deps.router = gin.New()
	api := deps.router.Group("/api/v1")
	handler.RegisterRoutes(api)
	handler.RegisterRealtime(api,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	return deps
}

func bearer(t *testing.T, userID string, role models.Role) map[string]string {
	token, err := auth.JWTer{SecretKey: testSecret}.CreateJWT(userID, role, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

// makeRequest - вспомогательная функция для выполнения HTTP-запросов
func makeRequest(router *gin.Engine, method, url string, body io.Reader, headers ...map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		for key, value := range h {
			req.Header.Set(key, value)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) io.Reader {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(raw)
}

func TestHealthCheck_NoAuth(t *testing.T) {
	deps := newTestHandler(t)

	w := makeRequest(deps.router, "GET", "/api/v1/system/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestAuth_MissingToken(t *testing.T) {
	deps := newTestHandler(t)
	deps.incidents.EXPECT().GetIncident(gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(deps.router, "GET", "/api/v1/occurrences/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "bearer token required")
}

func TestAuth_InvalidToken(t *testing.T) {
	deps := newTestHandler(t)
	deps.incidents.EXPECT().ListOpen(gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(deps.router, "GET", "/api/v1/notifications", nil, map[string]string{"Authorization": "Bearer nope"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")
}

func TestCreateIncident_Success(t *testing.T) {
	deps := newTestHandler(t)
	incidentID := uuid.New()
	reqBody := CreateIncidentRequest{
		Category:  string(models.CategoryFire),
		Title:     "Пожар на складе",
		Latitude:  -23.55,
		Longitude: -46.63,
	}

	deps.incidents.EXPECT().
		CreateIncident(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, actor models.Identity, inc *models.Incident) error {
			assert.Equal(t, "rep-1", actor.UserID)
			assert.Equal(t, models.RoleReporter, actor.Role)
			assert.Equal(t, models.CategoryFire, inc.Category)
			inc.ID = incidentID
			inc.Status = models.StatusOpen
			inc.ReporterID = actor.UserID
			return nil
		}).Times(1)

	w := makeRequest(deps.router, "POST", "/api/v1/occurrences", jsonBody(t, reqBody), bearer(t, "rep-1", models.RoleReporter))

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, incidentID, resp.ID)
	assert.Equal(t, string(models.StatusOpen), resp.Status)
	assert.Equal(t, "rep-1", resp.ReporterID)
}

func TestCreateIncident_InvalidJSON(t *testing.T) {
	deps := newTestHandler(t)
	deps.incidents.EXPECT().CreateIncident(gomock.Any(), gomock.Any(), gomock.Any()).Times(0) // Сервис не должен вызываться

	w := makeRequest(deps.router, "POST", "/api/v1/occurrences", bytes.NewBufferString(`{"category": "FURTO"`), bearer(t, "rep-1", models.RoleReporter))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestCreateIncident_ValidationError(t *testing.T) {
	deps := newTestHandler(t)
	deps.incidents.EXPECT().CreateIncident(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(deps.router, "POST", "/api/v1/occurrences", jsonBody(t, CreateIncidentRequest{Category: "METEOR"}), bearer(t, "rep-1", models.RoleReporter))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Error:Field validation for 'Category' failed on the 'oneof' tag")
}

func TestCreateIncident_Forbidden(t *testing.T) {
	deps := newTestHandler(t)
	deps.incidents.EXPECT().
		CreateIncident(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("service: role responder cannot create: %w", models.ErrForbidden))

	w := makeRequest(deps.router, "POST", "/api/v1/occurrences", jsonBody(t, CreateIncidentRequest{Category: "FURTO"}), bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetIncident_Success(t *testing.T) {
	deps := newTestHandler(t)
	incidentID := uuid.New()
	expected := &models.Incident{ID: incidentID, Category: models.CategoryTheft, Status: models.StatusAccepted}

	deps.incidents.EXPECT().GetIncident(gomock.Any(), incidentID).Return(expected, nil).Times(1)

	w := makeRequest(deps.router, "GET", fmt.Sprintf("/api/v1/occurrences/%s", incidentID), nil, bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, incidentID, resp.ID)
	assert.Equal(t, string(models.StatusAccepted), resp.Status)
}

func TestGetIncident_InvalidID(t *testing.T) {
	deps := newTestHandler(t)
	deps.incidents.EXPECT().GetIncident(gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(deps.router, "GET", "/api/v1/occurrences/invalid-uuid", nil, bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid incident ID")
}

func TestGetIncident_NotFound(t *testing.T) {
	deps := newTestHandler(t)
	incidentID := uuid.New()
	deps.incidents.EXPECT().GetIncident(gomock.Any(), incidentID).Return(nil, fmt.Errorf("service: %w", models.ErrNotFound))

	w := makeRequest(deps.router, "GET", fmt.Sprintf("/api/v1/occurrences/%s", incidentID), nil, bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetIncident_ServiceError(t *testing.T) {
	deps := newTestHandler(t)
	incidentID := uuid.New()
	deps.incidents.EXPECT().GetIncident(gomock.Any(), incidentID).Return(nil, errors.New("database error"))

	w := makeRequest(deps.router, "GET", fmt.Sprintf("/api/v1/occurrences/%s", incidentID), nil, bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestUpdateStatus_AcceptWithExpected(t *testing.T) {
	// Подготовка
	deps := newTestHandler(t)
	incidentID := uuid.New()
	responderID := "resp-1"
	expectedStatus := string(models.StatusOpen)
	reqBody := UpdateStatusRequest{Status: string(models.StatusAccepted), ExpectedStatus: &expectedStatus}

	// Ожидания
	deps.incidents.EXPECT().
		UpdateStatus(gomock.Any(), gomock.Any(), incidentID, models.StatusAccepted, gomock.Any()).
		DoAndReturn(func(_ context.Context, actor models.Identity, _ uuid.UUID, _ models.Status, expected *models.Status) (*models.Incident, error) {
			assert.Equal(t, responderID, actor.UserID)
			require.NotNil(t, expected)
			assert.Equal(t, models.StatusOpen, *expected)
			return &models.Incident{ID: incidentID, Status: models.StatusAccepted, ResponderID: &responderID}, nil
		})

	// Действие
	w := makeRequest(deps.router, "PATCH", fmt.Sprintf("/api/v1/occurrences/%s/status", incidentID), jsonBody(t, reqBody), bearer(t, responderID, models.RoleResponder))

	// Проверки
	assert.Equal(t, http.StatusOK, w.Code)
	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(models.StatusAccepted), resp.Status)
	require.NotNil(t, resp.ResponderID)
	assert.Equal(t, responderID, *resp.ResponderID)
}

func TestUpdateStatus_WithoutExpected(t *testing.T) {
	deps := newTestHandler(t)
	incidentID := uuid.New()

	deps.incidents.EXPECT().
		UpdateStatus(gomock.Any(), gomock.Any(), incidentID, models.StatusClosed, gomock.Nil()).
		Return(&models.Incident{ID: incidentID, Status: models.StatusClosed}, nil)

	w := makeRequest(deps.router, "PATCH", fmt.Sprintf("/api/v1/occurrences/%s/status", incidentID), bytes.NewBufferString(`{"status":"ENCERRADO"}`), bearer(t, "rep-1", models.RoleReporter))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"transition rejected", fmt.Errorf("service: %w", models.ErrTransitionRejected), http.StatusConflict},
		{"invalid transition", models.NewValidationError("status", "cannot move from ACEITO to EM_ABERTO"), http.StatusBadRequest},
		{"forbidden", fmt.Errorf("service: %w", models.ErrForbidden), http.StatusForbidden},
		{"not found", fmt.Errorf("service: %w", models.ErrNotFound), http.StatusNotFound},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestHandler(t)
			incidentID := uuid.New()
			deps.incidents.EXPECT().
				UpdateStatus(gomock.Any(), gomock.Any(), incidentID, gomock.Any(), gomock.Any()).
				Return(nil, tt.err)

			w := makeRequest(deps.router, "PATCH", fmt.Sprintf("/api/v1/occurrences/%s/status", incidentID), bytes.NewBufferString(`{"status":"ACEITO","expected_status":"EM_ABERTO"}`), bearer(t, "resp-1", models.RoleResponder))

			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestUpdateStatus_MissingStatus(t *testing.T) {
	deps := newTestHandler(t)
	deps.incidents.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(deps.router, "PATCH", fmt.Sprintf("/api/v1/occurrences/%s/status", uuid.New()), bytes.NewBufferString(`{}`), bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListNotifications(t *testing.T) {
	deps := newTestHandler(t)
	open := []*models.Incident{
		{ID: uuid.New(), Category: models.CategoryFire, Status: models.StatusOpen},
		{ID: uuid.New(), Category: models.CategoryAccident, Status: models.StatusOpen},
	}
	deps.incidents.EXPECT().
		ListOpen(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, actor models.Identity) ([]*models.Incident, error) {
			assert.Equal(t, models.RoleSupervisor, actor.Role)
			return open, nil
		})

	w := makeRequest(deps.router, "GET", "/api/v1/notifications", nil, bearer(t, "sup-1", models.RoleSupervisor))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

func TestOpenChat_NestedShape(t *testing.T) {
	deps := newTestHandler(t)
	incidentID, chatID := uuid.New(), uuid.New()
	deps.chats.EXPECT().
		OpenSession(gomock.Any(), gomock.Any(), incidentID).
		Return(&models.ChatSession{ID: chatID, IncidentID: incidentID}, nil)

	w := makeRequest(deps.router, "POST", fmt.Sprintf("/api/v1/chat/occurrences/%s/chat", incidentID), nil, bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp OpenChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, chatID, resp.Chat.ID)
	assert.Equal(t, incidentID, resp.Chat.IncidentID)
}

func TestOpenChat_SessionUnavailable(t *testing.T) {
	deps := newTestHandler(t)
	incidentID := uuid.New()
	deps.chats.EXPECT().
		OpenSession(gomock.Any(), gomock.Any(), incidentID).
		Return(nil, fmt.Errorf("service: %w", models.ErrSessionUnavailable))

	w := makeRequest(deps.router, "POST", fmt.Sprintf("/api/v1/chat/occurrences/%s/chat", incidentID), nil, bearer(t, "resp-1", models.RoleResponder))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListMessages(t *testing.T) {
	deps := newTestHandler(t)
	chatID := uuid.New()
	deps.chats.EXPECT().
		History(gomock.Any(), gomock.Any(), chatID).
		Return([]*models.Message{
			{ID: 1, ChatID: chatID, Kind: models.MessageText, Content: "a"},
			{ID: 2, ChatID: chatID, Kind: models.MessageImage, Content: "aGk="},
		}, nil)

	w := makeRequest(deps.router, "GET", fmt.Sprintf("/api/v1/chat/chats/%s/messages", chatID), nil, bearer(t, "rep-1", models.RoleReporter))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, int64(1), resp[0].ID)
	assert.Equal(t, "image", resp[1].Type)
}

func TestChatStatus(t *testing.T) {
	deps := newTestHandler(t)
	chatID, incidentID := uuid.New(), uuid.New()
	deps.chats.EXPECT().
		SessionStatus(gomock.Any(), gomock.Any(), chatID).
		Return(&models.ChatStatus{ChatID: chatID, IncidentID: incidentID, Status: models.StatusAttending}, nil)

	w := makeRequest(deps.router, "GET", fmt.Sprintf("/api/v1/chat/chats/%s/status", chatID), nil, bearer(t, "rep-1", models.RoleReporter))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp ChatStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(models.StatusAttending), resp.Status)
	assert.False(t, resp.ChatActive)
}

func TestRealtime_WebsocketWithoutMiddleware(t *testing.T) {
	deps := newTestHandler(t)

	w := makeRequest(deps.router, "GET", "/api/v1/ws", nil)

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRealtime_EventsSupervisorOnly(t *testing.T) {
	deps := newTestHandler(t)

	w := makeRequest(deps.router, "GET", "/api/v1/events", nil, bearer(t, "resp-1", models.RoleResponder))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = makeRequest(deps.router, "GET", "/api/v1/events", nil, bearer(t, "sup-1", models.RoleSupervisor))
	assert.Equal(t, http.StatusOK, w.Code)
}
