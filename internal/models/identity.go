package models

// Role - роль пользователя, передается явно каждому компоненту
type Role string

const (
	RoleReporter   Role = "reporter"
	RoleResponder  Role = "responder"
	RoleSupervisor Role = "supervisor"
)

// Identity описывает аутентифицированного участника
type Identity struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	ClientID string `json:"client_id,omitempty"`
	Token    string `json:"-"`
}

// ReceivesOffers сообщает, может ли роль получать предложения на вызов
func (i Identity) ReceivesOffers() bool {
	return i.Role == RoleResponder || i.Role == RoleSupervisor
}
