package domain

// Role — роль действующего лица, приходит из внешнего auth-сервиса.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Actor идентифицирует инициатора операции. Аутентификация — внешний
// collaborator: мы доверяем паре (ID, Role), которую он поставляет.
type Actor struct {
	ID   string
	Role Role
}

// Action — операция над заказом, подлежащая авторизации.
type Action string

const (
	ActionCancelOrder  Action = "order.cancel"
	ActionShipOrder    Action = "order.ship"
	ActionDeliverOrder Action = "order.deliver"
	ActionLabelOrder   Action = "order.label"
	ActionManageStock  Action = "stock.manage"
)

// Authorizer — контракт внешнего сервиса авторизации.
type Authorizer interface {
	Can(actor Actor, action Action, order Order) bool
}
