package auth

import "github.com/marketbay/fulfillment/internal/domain"

// RolePolicy — ролевая модель маркетплейса: покупатель отменяет свои
// заказы, продавец отгружает и закрывает свои, администратор может всё.
type RolePolicy struct{}

// NewRolePolicy возвращает стандартную ролевую модель.
func NewRolePolicy() *RolePolicy {
	return &RolePolicy{}
}

// Can решает, разрешена ли операция действующему лицу над заказом.
func (p *RolePolicy) Can(actor domain.Actor, action domain.Action, order domain.Order) bool {
	if actor.Role == domain.RoleAdmin {
		return true
	}

	switch action {
	case domain.ActionCancelOrder:
		// Покупатель отменяет свой заказ, продавец — заказы своего магазина.
		if actor.Role == domain.RoleBuyer {
			return actor.ID == order.BuyerID
		}
		if actor.Role == domain.RoleSeller {
			return actor.ID == order.SellerID
		}
	case domain.ActionShipOrder, domain.ActionDeliverOrder, domain.ActionLabelOrder:
		return actor.Role == domain.RoleSeller && actor.ID == order.SellerID
	case domain.ActionManageStock:
		return actor.Role == domain.RoleSeller
	}
	return false
}

// AllowAll разрешает любые операции. Используется в тестах и в конфигурации
// без внешнего auth-сервиса.
type AllowAll struct{}

// Can всегда возвращает true.
func (AllowAll) Can(domain.Actor, domain.Action, domain.Order) bool {
	return true
}

var (
	_ domain.Authorizer = (*RolePolicy)(nil)
	_ domain.Authorizer = AllowAll{}
)
