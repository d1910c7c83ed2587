package auth_test

import (
	"testing"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/auth"
)

func TestRolePolicy(t *testing.T) {
	policy := auth.NewRolePolicy()
	order := domain.Order{ID: "order-1", BuyerID: "buyer-1", SellerID: "seller-1"}

	cases := []struct {
		name   string
		actor  domain.Actor
		action domain.Action
		want   bool
	}{
		{"admin cancels anything", domain.Actor{ID: "root", Role: domain.RoleAdmin}, domain.ActionCancelOrder, true},
		{"admin ships anything", domain.Actor{ID: "root", Role: domain.RoleAdmin}, domain.ActionShipOrder, true},
		{"admin manages stock", domain.Actor{ID: "root", Role: domain.RoleAdmin}, domain.ActionManageStock, true},

		{"buyer cancels own order", domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}, domain.ActionCancelOrder, true},
		{"buyer cannot cancel foreign order", domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}, domain.ActionCancelOrder, false},
		{"buyer cannot ship", domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}, domain.ActionShipOrder, false},
		{"buyer cannot deliver", domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}, domain.ActionDeliverOrder, false},
		{"buyer cannot manage stock", domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}, domain.ActionManageStock, false},

		{"seller cancels own order", domain.Actor{ID: "seller-1", Role: domain.RoleSeller}, domain.ActionCancelOrder, true},
		{"seller cannot cancel foreign order", domain.Actor{ID: "seller-2", Role: domain.RoleSeller}, domain.ActionCancelOrder, false},
		{"seller ships own order", domain.Actor{ID: "seller-1", Role: domain.RoleSeller}, domain.ActionShipOrder, true},
		{"seller cannot ship foreign order", domain.Actor{ID: "seller-2", Role: domain.RoleSeller}, domain.ActionShipOrder, false},
		{"seller delivers own order", domain.Actor{ID: "seller-1", Role: domain.RoleSeller}, domain.ActionDeliverOrder, true},
		{"seller labels own order", domain.Actor{ID: "seller-1", Role: domain.RoleSeller}, domain.ActionLabelOrder, true},
		{"seller manages stock", domain.Actor{ID: "seller-1", Role: domain.RoleSeller}, domain.ActionManageStock, true},

		{"unknown role denied", domain.Actor{ID: "svc-1", Role: "service"}, domain.ActionCancelOrder, false},
		{"unknown action denied", domain.Actor{ID: "seller-1", Role: domain.RoleSeller}, "order.archive", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Can(tc.actor, tc.action, order); got != tc.want {
				t.Fatalf("Can(%s, %s) = %v, want %v", tc.actor.ID, tc.action, got, tc.want)
			}
		})
	}
}

func TestAllowAll(t *testing.T) {
	policy := auth.AllowAll{}
	if !policy.Can(domain.Actor{}, domain.ActionManageStock, domain.Order{}) {
		t.Fatal("AllowAll must permit any operation")
	}
}
