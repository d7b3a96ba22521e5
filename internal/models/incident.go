package models

import (
	"time"

	"github.com/google/uuid"
)

// Status - статус инцидента, см. пакет status для правил переходов
type Status string

const (
	StatusOpen      Status = "EM_ABERTO"
	StatusAccepted  Status = "ACEITO"
	StatusAttending Status = "ATENDIDO"
	StatusClosed    Status = "ENCERRADO"
)

// Category - закрытый список типов инцидентов
type Category string

const (
	CategoryAssault   Category = "ASSALTO"
	CategoryTheft     Category = "FURTO"
	CategoryFire      Category = "INCENDIO"
	CategoryAccident  Category = "ACIDENTE"
	CategoryVandalism Category = "VANDALISMO"
	CategoryOther     Category = "OUTRO"
)

// IsValidCategory проверяет, что категория входит в закрытый список
func IsValidCategory(c Category) bool {
	switch c {
	case CategoryAssault, CategoryTheft, CategoryFire, CategoryAccident, CategoryVandalism, CategoryOther:
		return true
	default:
		return false
	}
}

type Incident struct {
	ID          uuid.UUID `json:"id"`
	Category    Category  `json:"category"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Status      Status    `json:"status"`
	ReporterID  string    `json:"reporter_id"`
	ResponderID *string   `json:"responder_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
