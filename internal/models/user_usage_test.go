package models

import "testing"

func TestIsBillable(t *testing.T) {
	cases := []struct {
		subscription string
		payment      string
		want         bool
	}{
		{SubscriptionActive, PaymentPaid, true},
		{SubscriptionActive, PaymentSucceeded, true},
		{SubscriptionSucceeded, PaymentPaid, true},
		{SubscriptionActive, PaymentUnpaid, false},
		{SubscriptionInactive, PaymentPaid, false},
		{"", "", false},
	}
	for _, tc := range cases {
		row := UserUsage{SubscriptionStatus: tc.subscription, PaymentStatus: tc.payment}
		if got := row.IsBillable(); got != tc.want {
			t.Errorf("IsBillable(%q, %q) = %v, want %v", tc.subscription, tc.payment, got, tc.want)
		}
	}
}

func TestIsRecurring(t *testing.T) {
	recurring := []string{BillingCycleMonthly, BillingCycleYearly, BillingCycleSubscription, BillingCycleDefault}
	for _, cycle := range recurring {
		if !(&UserUsage{BillingCycle: cycle}).IsRecurring() {
			t.Errorf("cycle %q must be recurring", cycle)
		}
	}
	for _, cycle := range []string{BillingCycleLifetime, BillingCycleNone, ""} {
		if (&UserUsage{BillingCycle: cycle}).IsRecurring() {
			t.Errorf("cycle %q must not be recurring", cycle)
		}
	}
}
