package v1

import "github.com/shenikar/incident_dispatch/internal/models"

// DTOToIncidentModel преобразует DTO создания в доменную модель
func DTOToIncidentModel(dto CreateIncidentRequest) *models.Incident {
	return &models.Incident{
		Category:    models.Category(dto.Category),
		Title:       dto.Title,
		Description: dto.Description,
		Latitude:    dto.Latitude,
		Longitude:   dto.Longitude,
	}
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:          model.ID,
		Category:    string(model.Category),
		Title:       model.Title,
		Description: model.Description,
		Latitude:    model.Latitude,
		Longitude:   model.Longitude,
		Status:      string(model.Status),
		ReporterID:  model.ReporterID,
		ResponderID: model.ResponderID,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(incidents []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(incidents))
	for i, model := range incidents {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}

func ModelToMessageResponse(msg *models.Message) *MessageResponse {
	return &MessageResponse{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		AuthorID:  msg.AuthorID,
		Type:      string(msg.Kind),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func ModelsToMessageResponses(msgs []*models.Message) []*MessageResponse {
	responses := make([]*MessageResponse, len(msgs))
	for i, msg := range msgs {
		responses[i] = ModelToMessageResponse(msg)
	}
	return responses
}

func ModelToChatStatusResponse(st *models.ChatStatus) *ChatStatusResponse {
	return &ChatStatusResponse{
		ChatID:     st.ChatID,
		IncidentID: st.IncidentID,
		Status:     string(st.Status),
		ChatActive: st.ChatActive,
	}
}
