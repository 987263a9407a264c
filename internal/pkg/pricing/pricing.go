package pricing

// Pure price computation. No I/O, no clock, no global state: a breakdown is
// reproducible from its inputs alone, which keeps every charged price
// auditable.

// PlanView carries the base prices of a plan in minor units.
type PlanView struct {
	BasePrice         int64 // per period
	PricePerSquad     int64
	PricePerTrafficGB int64
	PricePerDevice    int64
}

// PromoGroupView carries the discount tier of the buying user.
type PromoGroupView struct {
	ServersDiscount int // percent 0..100
	TrafficDiscount int
	DevicesDiscount int
	PeriodDiscounts map[int]int // period days -> percent
}

// PromoView is an optional promo code adjustment, applied last.
type PromoView struct {
	Type  string // "percent" or "absolute"
	Value int64  // percent 0..100 or absolute minor units
}

const (
	PromoTypePercent  = "percent"
	PromoTypeAbsolute = "absolute"
)

// PriceInput is everything the engine needs to price a purchase.
type PriceInput struct {
	Plan                  PlanView
	PeriodDays            int
	Squads                int
	TrafficGB             int
	Devices               int
	Group                 *PromoGroupView
	GlobalPeriodDiscounts map[int]int
	Promo                 *PromoView
}

// LineItem is one priced component of the breakdown.
type LineItem struct {
	Name        string `json:"name"`
	Base        int64  `json:"base"`
	DiscountPct int    `json:"discount_pct"`
	Amount      int64  `json:"amount"`
}

// Breakdown is the full auditable result of a price computation.
type Breakdown struct {
	Items             []LineItem `json:"items"`
	Subtotal          int64      `json:"subtotal"`
	PeriodDiscountPct int        `json:"period_discount_pct"`
	PeriodDiscount    int64      `json:"period_discount"`
	PromoDiscount     int64      `json:"promo_discount"`
	Total             int64      `json:"total"`
}

// Price computes the final price. The discount order is fixed and must not be
// reordered: (1) promo-group per-dimension discounts on each component,
// (2) period discount on the subtotal (group table first, global fallback),
// (3) promo code adjustment last. Components and the total clamp at zero.
func Price(in PriceInput) Breakdown {
	var b Breakdown

	serversPct, trafficPct, devicesPct := 0, 0, 0
	if in.Group != nil {
		serversPct = clampPct(in.Group.ServersDiscount)
		trafficPct = clampPct(in.Group.TrafficDiscount)
		devicesPct = clampPct(in.Group.DevicesDiscount)
	}

	addItem := func(name string, base int64, pct int) {
		if base <= 0 {
			return
		}
		amount := applyPct(base, pct)
		b.Items = append(b.Items, LineItem{Name: name, Base: base, DiscountPct: pct, Amount: amount})
		b.Subtotal += amount
	}

	addItem("base", in.Plan.BasePrice, 0)
	addItem("servers", int64(in.Squads)*in.Plan.PricePerSquad, serversPct)
	addItem("traffic", int64(in.TrafficGB)*in.Plan.PricePerTrafficGB, trafficPct)
	addItem("devices", int64(in.Devices)*in.Plan.PricePerDevice, devicesPct)

	b.PeriodDiscountPct = periodDiscountFor(in)
	b.PeriodDiscount = b.Subtotal - applyPct(b.Subtotal, b.PeriodDiscountPct)
	total := b.Subtotal - b.PeriodDiscount

	if in.Promo != nil {
		switch in.Promo.Type {
		case PromoTypePercent:
			discounted := applyPct(total, clampPct(int(in.Promo.Value)))
			b.PromoDiscount = total - discounted
			total = discounted
		case PromoTypeAbsolute:
			cut := in.Promo.Value
			if cut < 0 {
				cut = 0
			}
			if cut > total {
				cut = total
			}
			b.PromoDiscount = cut
			total -= cut
		}
	}

	if total < 0 {
		total = 0
	}
	b.Total = total
	return b
}

// periodDiscountFor looks up the period discount: the promo group's own table
// wins, the global table is the fallback.
func periodDiscountFor(in PriceInput) int {
	if in.Group != nil {
		if pct, ok := in.Group.PeriodDiscounts[in.PeriodDays]; ok {
			return clampPct(pct)
		}
	}
	if pct, ok := in.GlobalPeriodDiscounts[in.PeriodDays]; ok {
		return clampPct(pct)
	}
	return 0
}

func applyPct(v int64, pct int) int64 {
	if v <= 0 {
		return 0
	}
	out := v - v*int64(clampPct(pct))/100
	if out < 0 {
		return 0
	}
	return out
}

func clampPct(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
