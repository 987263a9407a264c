package pricing

import "testing"

func TestPriceIsDeterministic(t *testing.T) {
	in := PriceInput{
		Plan:       PlanView{PricePerSquad: 5000, PricePerTrafficGB: 10, PricePerDevice: 500},
		PeriodDays: 90,
		Squads:     2,
		TrafficGB:  100,
		Devices:    3,
		Group: &PromoGroupView{
			ServersDiscount: 10,
			TrafficDiscount: 20,
			DevicesDiscount: 0,
			PeriodDiscounts: map[int]int{90: 5},
		},
		Promo: &PromoView{Type: PromoTypeAbsolute, Value: 300},
	}

	first := Price(in)
	for i := 0; i < 10; i++ {
		got := Price(in)
		if got.Total != first.Total || got.Subtotal != first.Subtotal {
			t.Fatalf("price not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestPromoGroupDiscountOnComponent(t *testing.T) {
	// 20% promo-group discount on a 10000 servers component -> 8000.
	b := Price(PriceInput{
		Plan:       PlanView{PricePerSquad: 10000},
		PeriodDays: 30,
		Squads:     1,
		Group:      &PromoGroupView{ServersDiscount: 20},
	})
	if b.Total != 8000 {
		t.Fatalf("total = %d, want 8000", b.Total)
	}
	if len(b.Items) != 1 || b.Items[0].Amount != 8000 || b.Items[0].Base != 10000 {
		t.Fatalf("unexpected items: %+v", b.Items)
	}
}

func TestDiscountOrderIsFixed(t *testing.T) {
	// Group 50% on the 1000 component -> 500; period 10% on subtotal -> 450;
	// absolute promo 100 last -> 350. Any other order gives a different total.
	b := Price(PriceInput{
		Plan:       PlanView{PricePerSquad: 1000},
		PeriodDays: 90,
		Squads:     1,
		Group: &PromoGroupView{
			ServersDiscount: 50,
			PeriodDiscounts: map[int]int{90: 10},
		},
		Promo: &PromoView{Type: PromoTypeAbsolute, Value: 100},
	})
	if b.Subtotal != 500 {
		t.Fatalf("subtotal = %d, want 500", b.Subtotal)
	}
	if b.PeriodDiscount != 50 {
		t.Fatalf("period discount = %d, want 50", b.PeriodDiscount)
	}
	if b.PromoDiscount != 100 {
		t.Fatalf("promo discount = %d, want 100", b.PromoDiscount)
	}
	if b.Total != 350 {
		t.Fatalf("total = %d, want 350", b.Total)
	}
}

func TestGlobalPeriodTableFallback(t *testing.T) {
	in := PriceInput{
		Plan:                  PlanView{BasePrice: 1000},
		PeriodDays:            180,
		Group:                 &PromoGroupView{PeriodDiscounts: map[int]int{90: 5}},
		GlobalPeriodDiscounts: map[int]int{180: 10},
	}
	b := Price(in)
	if b.PeriodDiscountPct != 10 {
		t.Fatalf("period pct = %d, want global fallback 10", b.PeriodDiscountPct)
	}

	// Group table wins when it has the period.
	in.Group.PeriodDiscounts[180] = 20
	b = Price(in)
	if b.PeriodDiscountPct != 20 {
		t.Fatalf("period pct = %d, want group 20", b.PeriodDiscountPct)
	}
}

func TestNeverNegative(t *testing.T) {
	tests := []struct {
		name string
		in   PriceInput
	}{
		{
			name: "absolute promo larger than total",
			in: PriceInput{
				Plan:       PlanView{BasePrice: 100},
				PeriodDays: 30,
				Promo:      &PromoView{Type: PromoTypeAbsolute, Value: 10000},
			},
		},
		{
			name: "discounts over 100 percent clamp",
			in: PriceInput{
				Plan:       PlanView{PricePerSquad: 100},
				Squads:     1,
				PeriodDays: 30,
				Group:      &PromoGroupView{ServersDiscount: 250},
			},
		},
		{
			name: "negative promo value ignored",
			in: PriceInput{
				Plan:       PlanView{BasePrice: 100},
				PeriodDays: 30,
				Promo:      &PromoView{Type: PromoTypeAbsolute, Value: -500},
			},
		},
	}

	for _, tt := range tests {
		b := Price(tt.in)
		if b.Total < 0 {
			t.Fatalf("%s: total %d is negative", tt.name, b.Total)
		}
		for _, item := range b.Items {
			if item.Amount < 0 {
				t.Fatalf("%s: item %s amount %d is negative", tt.name, item.Name, item.Amount)
			}
		}
	}
}

func TestPercentPromoAppliesLast(t *testing.T) {
	// Subtotal 1000, period 10% -> 900, promo 50% -> 450.
	b := Price(PriceInput{
		Plan:                  PlanView{BasePrice: 1000},
		PeriodDays:            90,
		GlobalPeriodDiscounts: map[int]int{90: 10},
		Promo:                 &PromoView{Type: PromoTypePercent, Value: 50},
	})
	if b.Total != 450 {
		t.Fatalf("total = %d, want 450", b.Total)
	}
}
