package offer

import (
	"testing"
	"time"
)

func TestAmountUnits(t *testing.T) {
	cases := []struct {
		name    string
		amount  string
		want    string
		wantErr bool
	}{
		{name: "lamports", amount: "10000000", want: "10000000"},
		{name: "trimmed", amount: "  42 ", want: "42"},
		{name: "large", amount: "123456789012345678901234567890", want: "123456789012345678901234567890"},
		{name: "empty", amount: "", wantErr: true},
		{name: "zero", amount: "0", wantErr: true},
		{name: "negative", amount: "-5", wantErr: true},
		{name: "float", amount: "1.5", wantErr: true},
		{name: "garbage", amount: "ten", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			units, err := Offer{Amount: tc.amount}.AmountUnits()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.amount)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if units.String() != tc.want {
				t.Fatalf("got %s, want %s", units.String(), tc.want)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if (Offer{}).Expired(now) {
		t.Fatal("offer without expiry must never expire")
	}
	past := Offer{ExpiresAt: now.Add(-time.Second).UnixMilli()}
	if !past.Expired(now) {
		t.Fatal("offer with past deadline should be expired")
	}
	future := Offer{ExpiresAt: now.Add(time.Minute).UnixMilli()}
	if future.Expired(now) {
		t.Fatal("offer with future deadline should not be expired")
	}
}

func TestAssetKindValid(t *testing.T) {
	if !AssetSOL.Valid() || !AssetUSDC.Valid() {
		t.Fatal("supported assets must validate")
	}
	if AssetKind("DOGE").Valid() {
		t.Fatal("unknown asset must not validate")
	}
}
