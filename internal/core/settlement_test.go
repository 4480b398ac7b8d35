package core

import "testing"

func i64(v int64) *int64 { return &v }

func f64(v float64) *float64 { return &v }

func TestCalculate(t *testing.T) {
	cases := []struct {
		name       string
		in         CalculationInput
		gross      int64
		expected   int64
		credited   int64
		net        int64
	}{
		{
			name:  "plain items",
			in:    CalculationInput{Items: []ExpenseItem{{Quantity: 2, PriceCents: 500}}},
			gross: 1000, net: 1000,
		},
		{
			name: "service charge floors",
			in: CalculationInput{
				ServiceChargePercent: f64(10),
				Items:                []ExpenseItem{{Quantity: 2, PriceCents: 500}},
			},
			gross: 1100, net: 1100,
		},
		{
			name: "service charge truncates fractional cents",
			in: CalculationInput{
				ServiceChargePercent: f64(7.5),
				Items:                []ExpenseItem{{Quantity: 1, PriceCents: 333}},
			},
			gross: 357, net: 357, // 333 * 1.075 = 357.975
		},
		{
			name: "gst exclusion after service charge",
			in: CalculationInput{
				ServiceChargePercent: f64(10),
				GSTExcluded:          true,
				Items:                []ExpenseItem{{Quantity: 2, PriceCents: 500}},
			},
			gross: 1199, net: 1199, // floor(floor(1000*1.10) * 1.09)
		},
		{
			name: "refund capped at expected",
			in: CalculationInput{
				Items:   []ExpenseItem{{Quantity: 2, PriceCents: 500}},
				Refunds: []Refund{{ExpectedCents: 300, ActualCents: i64(200)}},
			},
			gross: 1000, expected: 300, credited: 200, net: 800,
		},
		{
			name: "actual above expected still capped",
			in: CalculationInput{
				Items:   []ExpenseItem{{Quantity: 2, PriceCents: 500}},
				Refunds: []Refund{{ExpectedCents: 300, ActualCents: i64(450)}},
			},
			gross: 1000, expected: 300, credited: 300, net: 700,
		},
		{
			name: "unconfirmed refund counts as zero",
			in: CalculationInput{
				Items:   []ExpenseItem{{Quantity: 2, PriceCents: 500}},
				Refunds: []Refund{{ExpectedCents: 300}},
			},
			gross: 1000, expected: 300, credited: 0, net: 1000,
		},
		{
			name: "deleted items and refunds ignored",
			in: CalculationInput{
				Items: []ExpenseItem{
					{Quantity: 2, PriceCents: 500, IsDeleted: true},
					{Quantity: 1, PriceCents: 250},
				},
				Refunds: []Refund{{ExpectedCents: 100, ActualCents: i64(100), IsDeleted: true}},
			},
			gross: 250, net: 250,
		},
		{
			name: "all items deleted",
			in: CalculationInput{
				Items:   []ExpenseItem{{Quantity: 2, PriceCents: 500, IsDeleted: true}},
				Refunds: []Refund{{ExpectedCents: 300, ActualCents: i64(200)}},
			},
			gross: 0, expected: 300, credited: 200, net: -200,
		},
		{
			name: "empty input",
			in:   CalculationInput{},
		},
		{
			name: "zero service charge is a no-op",
			in: CalculationInput{
				ServiceChargePercent: f64(0),
				Items:                []ExpenseItem{{Quantity: 3, PriceCents: 100}},
			},
			gross: 300, net: 300,
		},
		{
			name: "negative values stay total",
			in: CalculationInput{
				ServiceChargePercent: f64(10),
				Items:                []ExpenseItem{{Quantity: -1, PriceCents: 500}},
			},
			gross: -550, net: -550,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Calculate(tc.in)
			if got.GrossCents != tc.gross {
				t.Errorf("gross = %d, want %d", got.GrossCents, tc.gross)
			}
			if got.ExpectedRefundCents != tc.expected {
				t.Errorf("expected refund = %d, want %d", got.ExpectedRefundCents, tc.expected)
			}
			if got.MinRefundCents != tc.credited {
				t.Errorf("credited refund = %d, want %d", got.MinRefundCents, tc.credited)
			}
			if got.NetCents != tc.net {
				t.Errorf("net = %d, want %d", got.NetCents, tc.net)
			}
		})
	}
}

func TestCalculateFloatForms(t *testing.T) {
	got := Calculate(CalculationInput{
		Items:   []ExpenseItem{{Quantity: 2, PriceCents: 500}},
		Refunds: []Refund{{ExpectedCents: 300, ActualCents: i64(200)}},
	})
	if got.Gross != 10.0 || got.ExpectedRefund != 3.0 || got.MinRefund != 2.0 || got.Net != 8.0 {
		t.Fatalf("float forms = %+v", got)
	}
}
