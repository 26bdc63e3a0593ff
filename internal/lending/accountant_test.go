package lending

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCollateralRequired(t *testing.T) {
	// 1000 USDC principal at 25 USDC/token needs 1250 of value, 50 tokens.
	required, err := CollateralRequired(dec("1000"), dec("25"))
	if err != nil {
		t.Fatalf("CollateralRequired failed: %v", err)
	}
	if !required.Equal(dec("50")) {
		t.Errorf("Expected 50 tokens, got %s", required)
	}

	if _, err := CollateralRequired(dec("0"), dec("25")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero principal, got %v", err)
	}
	if _, err := CollateralRequired(dec("1000"), dec("0")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero price, got %v", err)
	}
}

func TestMaxLoanAmount(t *testing.T) {
	max, err := MaxLoanAmount(dec("50"), dec("25"))
	if err != nil {
		t.Fatalf("MaxLoanAmount failed: %v", err)
	}
	if !max.Equal(dec("1000")) {
		t.Errorf("Expected 1000, got %s", max)
	}

	// Rounds down so the collateral always covers the principal.
	max, err = MaxLoanAmount(dec("3"), dec("417"))
	if err != nil {
		t.Fatalf("MaxLoanAmount failed: %v", err)
	}
	if !max.Equal(dec("1000")) {
		t.Errorf("Expected 1000 (1000.8 rounded down), got %s", max)
	}
}

func TestRepaymentAmount(t *testing.T) {
	repayment, err := RepaymentAmount(dec("1000"))
	if err != nil {
		t.Fatalf("RepaymentAmount failed: %v", err)
	}
	if !repayment.Equal(dec("1100")) {
		t.Errorf("Expected 1100, got %s", repayment)
	}

	// 999 * 1.10 = 1098.9, rounds half-up to 1099.
	repayment, err = RepaymentAmount(dec("999"))
	if err != nil {
		t.Fatalf("RepaymentAmount failed: %v", err)
	}
	if !repayment.Equal(dec("1099")) {
		t.Errorf("Expected 1099, got %s", repayment)
	}
}

func TestLiquidationPrice(t *testing.T) {
	// 1000 principal over 50 tokens discounted to 90%: 1000 / 45.
	price, err := LiquidationPrice(dec("1000"), dec("50"))
	if err != nil {
		t.Fatalf("LiquidationPrice failed: %v", err)
	}
	expected := dec("1000").Div(dec("45"))
	if !price.Equal(expected) {
		t.Errorf("Expected %s, got %s", expected, price)
	}
}

func TestHealthFactor_AtOrigination(t *testing.T) {
	// Exactly 1.25x collateral gives 1.25 * 0.90 = 1.125.
	factor, err := HealthFactor(dec("50"), dec("25"), dec("1000"))
	if err != nil {
		t.Fatalf("HealthFactor failed: %v", err)
	}
	if !factor.Equal(dec("1.125")) {
		t.Errorf("Expected 1.125, got %s", factor)
	}
	if band := HealthBand(factor); band != domain.HealthBandWarning {
		t.Errorf("Expected warning band at origination, got %s", band)
	}
}

func TestHealthBand(t *testing.T) {
	cases := []struct {
		factor string
		band   string
	}{
		{"0.8", domain.HealthBandCritical},
		{"1.09", domain.HealthBandCritical},
		{"1.1", domain.HealthBandWarning},
		{"1.19", domain.HealthBandWarning},
		{"1.2", domain.HealthBandModerate},
		{"1.49", domain.HealthBandModerate},
		{"1.5", domain.HealthBandHealthy},
		{"3", domain.HealthBandHealthy},
	}
	for _, tc := range cases {
		if band := HealthBand(dec(tc.factor)); band != tc.band {
			t.Errorf("HealthBand(%s) = %s, expected %s", tc.factor, band, tc.band)
		}
	}
}

func TestLiquidatable(t *testing.T) {
	if !Liquidatable(dec("0.99")) {
		t.Error("Expected 0.99 to be liquidatable")
	}
	if Liquidatable(dec("1")) {
		t.Error("Factor of exactly 1 must not be liquidatable")
	}
}
