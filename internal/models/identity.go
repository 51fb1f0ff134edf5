package models

// Role представляет роль участника
type Role string

const (
	RoleCourier Role = "courier"
	RoleAdmin   Role = "admin"
)

// Actor представляет аутентифицированного участника, от имени которого выполняется операция
type Actor struct {
	Role    Role  `json:"role"`
	AgentID int64 `json:"agent_id,omitempty"`
}

// IsAdmin сообщает, обладает ли участник правами администратора
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Is сообщает, что участник является курьером с указанным идентификатором
func (a Actor) Is(agentID int64) bool {
	return a.Role == RoleCourier && a.AgentID == agentID
}

// CourierActor создает участника-курьера
func CourierActor(agentID int64) Actor {
	return Actor{Role: RoleCourier, AgentID: agentID}
}

// AdminActor создает участника-администратора
func AdminActor() Actor {
	return Actor{Role: RoleAdmin}
}
