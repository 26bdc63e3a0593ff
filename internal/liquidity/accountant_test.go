package liquidity

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLPTokensToMint_Bootstrap(t *testing.T) {
	minted, err := LPTokensToMint(dec("1000"), decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("LPTokensToMint failed: %v", err)
	}
	if !minted.Equal(dec("1000")) {
		t.Errorf("Expected 1:1 bootstrap mint of 1000, got %s", minted)
	}
}

func TestLPTokensToMint_Proportional(t *testing.T) {
	// Pool holds 2000 USDC backing 1000 LP tokens. A 500 deposit is a
	// quarter of the pool, so 250 LP tokens keep shares undiluted.
	minted, err := LPTokensToMint(dec("500"), dec("2000"), dec("1000"))
	if err != nil {
		t.Fatalf("LPTokensToMint failed: %v", err)
	}
	if !minted.Equal(dec("250")) {
		t.Errorf("Expected 250 LP tokens, got %s", minted)
	}
}

func TestLPTokensToMint_Invalid(t *testing.T) {
	cases := []struct {
		name               string
		amount, liq, lp    string
	}{
		{"zero deposit", "0", "100", "100"},
		{"negative deposit", "-5", "100", "100"},
		{"negative pool", "10", "-1", "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LPTokensToMint(dec(tc.amount), dec(tc.liq), dec(tc.lp))
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestUSDCFromLPTokens_RoundTrip(t *testing.T) {
	// Sole provider burns the full supply and gets the full pool back.
	payout, err := USDCFromLPTokens(dec("1000"), dec("1000"), dec("1000"))
	if err != nil {
		t.Fatalf("USDCFromLPTokens failed: %v", err)
	}
	if !payout.Equal(dec("1000")) {
		t.Errorf("Expected full pool 1000, got %s", payout)
	}
}

func TestUSDCFromLPTokens_ProportionalRounded(t *testing.T) {
	// 1 of 3 LP tokens over 100 USDC is 33.33..., rounded half-up to 33.
	payout, err := USDCFromLPTokens(dec("1"), dec("100"), dec("3"))
	if err != nil {
		t.Fatalf("USDCFromLPTokens failed: %v", err)
	}
	if !payout.Equal(dec("33")) {
		t.Errorf("Expected 33, got %s", payout)
	}

	// 2 of 3 rounds up but must never exceed what the pool holds.
	payout, err = USDCFromLPTokens(dec("3"), dec("100"), dec("3"))
	if err != nil {
		t.Fatalf("USDCFromLPTokens failed: %v", err)
	}
	if payout.GreaterThan(dec("100")) {
		t.Errorf("Payout %s exceeds pool total", payout)
	}
}

func TestUSDCFromLPTokens_EmptyPool(t *testing.T) {
	_, err := USDCFromLPTokens(dec("10"), decimal.Zero, decimal.Zero)
	if !errors.Is(err, domain.ErrPoolEmpty) {
		t.Errorf("Expected ErrPoolEmpty, got %v", err)
	}
}

func TestPoolSharePercent(t *testing.T) {
	share, err := PoolSharePercent(dec("250"), dec("1000"))
	if err != nil {
		t.Fatalf("PoolSharePercent failed: %v", err)
	}
	if !share.Equal(dec("25")) {
		t.Errorf("Expected 25 percent, got %s", share)
	}

	share, err = PoolSharePercent(decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("PoolSharePercent failed: %v", err)
	}
	if !share.IsZero() {
		t.Errorf("Expected 0 for empty pool, got %s", share)
	}
}
