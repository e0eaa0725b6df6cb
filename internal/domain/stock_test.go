package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func TestStockMovementSignedQty(t *testing.T) {
	cases := []struct {
		typ  domain.MovementType
		qty  int32
		want int64
	}{
		{domain.MovementIn, 3, 3},
		{domain.MovementReturn, 2, 2},
		{domain.MovementOut, 3, -3},
		{domain.MovementTransfer, 1, -1},
		{domain.MovementAdjustment, -4, -4},
		{domain.MovementAdjustment, 4, 4},
	}

	for _, tc := range cases {
		m := domain.StockMovement{Type: tc.typ, Qty: tc.qty}
		if got := m.SignedQty(); got != tc.want {
			t.Errorf("SignedQty(%s, %d) = %d, want %d", tc.typ, tc.qty, got, tc.want)
		}
	}
}

func TestStockMovementValidate(t *testing.T) {
	ok := domain.StockMovement{ProductID: "product-1", Type: domain.MovementOut, Qty: 1}
	if errs := ok.Validate(); len(errs) != 0 {
		t.Fatalf("expected valid movement, got %v", errs)
	}

	cases := []struct {
		name string
		m    domain.StockMovement
	}{
		{name: "no product", m: domain.StockMovement{Type: domain.MovementIn, Qty: 1}},
		{name: "bad type", m: domain.StockMovement{ProductID: "p", Type: "teleport", Qty: 1}},
		{name: "zero qty", m: domain.StockMovement{ProductID: "p", Type: domain.MovementOut, Qty: 0}},
		{name: "zero adjustment", m: domain.StockMovement{ProductID: "p", Type: domain.MovementAdjustment, Qty: 0}},
		{name: "negative out", m: domain.StockMovement{ProductID: "p", Type: domain.MovementOut, Qty: -2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if len(tc.m.Validate()) == 0 {
				t.Fatal("expected validation errors")
			}
		})
	}
}
