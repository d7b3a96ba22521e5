// Package policy решает, какие роли что могут делать. Правила описаны в casbin RBAC.
package policy

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/shenikar/incident_dispatch/internal/models"
)

const (
	ObjOccurrence = "occurrence"
	ObjOffer      = "offer"
	ObjChat       = "chat"

	ActCreate  = "create"
	ActReceive = "receive"
	ActUse     = "use"
	ActSet     = "set"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// DefaultPolicy - супервизор наследует права ответственного.
// Репортер может только закрыть собственный инцидент, проверка владельца - в сервисе.
const DefaultPolicy = `
p, reporter, occurrence, create
p, reporter, chat, use
p, reporter, status:ENCERRADO, set
p, responder, offer, receive
p, responder, chat, use
p, responder, status:ACEITO, set
p, responder, status:ATENDIDO, set
p, responder, status:ENCERRADO, set
p, supervisor, occurrence, create
g, supervisor, responder
`

// Policy - потокобезопасная обертка над casbin
type Policy struct {
	e *casbin.SyncedEnforcer
}

// New создает политику из строки правил. Пустая строка - DefaultPolicy.
func New(rules string) (*Policy, error) {
	if rules == "" {
		rules = DefaultPolicy
	}
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(rules))
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	return &Policy{e: e}, nil
}

// Allowed проверяет произвольное правило. Ошибка casbin трактуется как запрет.
func (p *Policy) Allowed(role models.Role, obj, act string) bool {
	ok, err := p.e.Enforce(string(role), obj, act)
	return err == nil && ok
}

// CanReceiveOffers - получает ли роль предложения на вызов
func (p *Policy) CanReceiveOffers(role models.Role) bool {
	return p.Allowed(role, ObjOffer, ActReceive)
}

// CanSetStatus - может ли роль перевести инцидент в статус s
func (p *Policy) CanSetStatus(role models.Role, s models.Status) bool {
	return p.Allowed(role, "status:"+string(s), ActSet)
}

// CanCreate - может ли роль создавать инциденты
func (p *Policy) CanCreate(role models.Role) bool {
	return p.Allowed(role, ObjOccurrence, ActCreate)
}

// CanChat - может ли роль пользоваться чатом
func (p *Policy) CanChat(role models.Role) bool {
	return p.Allowed(role, ObjChat, ActUse)
}
