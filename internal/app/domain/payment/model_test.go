package payment

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusInEscrow, true},
		{StatusPending, StatusFailed, true},
		{StatusConfirmed, StatusInEscrow, true},
		{StatusConfirmed, StatusFailed, true},
		{StatusInEscrow, StatusFailed, true},
		{StatusConfirmed, StatusPending, false},
		{StatusInEscrow, StatusConfirmed, false},
		{StatusInEscrow, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusConfirmed, false},
		{StatusFailed, StatusFailed, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusFailed.Terminal() {
		t.Fatal("FAILED must be terminal")
	}
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusInEscrow} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestValidAddress(t *testing.T) {
	if !ValidAddress("0x1111111111111111111111111111111111111111") {
		t.Fatal("well-formed address rejected")
	}
	for _, addr := range []string{
		"",
		"0x111",
		"1111111111111111111111111111111111111111",
		"0xZZ11111111111111111111111111111111111111",
		"0x11111111111111111111111111111111111111111",
	} {
		if ValidAddress(addr) {
			t.Fatalf("malformed address accepted: %q", addr)
		}
	}
}

func TestValidType(t *testing.T) {
	for _, typ := range []Type{TypeUnitPurchase, TypeProjectFunding, TypeRepayment, TypePlatformFee, TypeStewardPayment} {
		if !ValidType(typ) {
			t.Fatalf("known type rejected: %s", typ)
		}
	}
	if ValidType("GIFT") {
		t.Fatal("unknown type accepted")
	}
}
