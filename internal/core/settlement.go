package core

import "math"

// GSTPercent is the adjustment applied to expenses recorded with GST
// excluded from their item prices.
const GSTPercent = 9.0

// CalculationInput is the value consumed by Calculate. It is never
// stored; storage hands it over and the result is computed on read.
type CalculationInput struct {
	ServiceChargePercent *float64
	GSTExcluded          bool
	Items                []ExpenseItem
	Refunds              []Refund
}

// Settlement carries the settled figures of one expense, in both integer
// cents and currency units.
type Settlement struct {
	GrossCents          int64
	ExpectedRefundCents int64
	MinRefundCents      int64
	NetCents            int64

	Gross          float64
	ExpectedRefund float64
	MinRefund      float64
	Net            float64
}

// Calculate settles an expense: item sum, then service charge, then GST
// adjustment, each stage floored to whole cents; refund credit is capped
// at the expected amount and an unconfirmed actual counts as zero.
//
// The function is total. Negative or zero quantities and prices are not
// rejected here; validation is the caller's concern.
func Calculate(in CalculationInput) Settlement {
	var base int64
	for _, it := range in.Items {
		if it.IsDeleted {
			continue
		}
		base += it.Quantity * it.PriceCents
	}

	gross := base
	// Order matters: service charge first, GST adjustment on the
	// post-charge total, flooring after each stage.
	if p := in.ServiceChargePercent; p != nil && *p != 0 {
		gross = applyPercent(gross, *p)
	}
	if in.GSTExcluded {
		gross = applyPercent(gross, GSTPercent)
	}

	var expected, credited int64
	for _, r := range in.Refunds {
		if r.IsDeleted {
			continue
		}
		expected += r.ExpectedCents
		var actual int64
		if r.ActualCents != nil {
			actual = *r.ActualCents
		}
		credited += min(r.ExpectedCents, actual)
	}

	net := gross - credited

	return Settlement{
		GrossCents:          gross,
		ExpectedRefundCents: expected,
		MinRefundCents:      credited,
		NetCents:            net,
		Gross:               Money{Cents: gross}.Units(),
		ExpectedRefund:      Money{Cents: expected}.Units(),
		MinRefund:           Money{Cents: credited}.Units(),
		Net:                 Money{Cents: net}.Units(),
	}
}

// Input returns the calculation value for an expense.
func (e Expense) Input() CalculationInput {
	return CalculationInput{
		ServiceChargePercent: e.ServiceChargePercent,
		GSTExcluded:          e.GSTExcluded,
		Items:                e.Items,
		Refunds:              e.Refunds,
	}
}

// Settle computes the settled figures for an expense.
func (e Expense) Settle() Settlement {
	return Calculate(e.Input())
}

// applyPercent adds p percent to cents and floors the result. The
// multiplication happens before the division so integer-valued results
// stay exact in float64.
func applyPercent(cents int64, p float64) int64 {
	return int64(math.Floor(float64(cents) * (100 + p) / 100))
}
