package tax

import (
	"errors"
	"testing"
)

// TestCalculate covers the threshold split, the bonus rate and rounding.
func TestCalculate(t *testing.T) {
	tests := []struct {
		name          string
		amount        Money
		years         int
		wantDeduction string
		wantNet       string
		wantDiscount  string
		wantBonus     bool
		wantAboveRate float64
	}{
		{"1000 no history", Euros(1000, 0), 0, "500.00", "500.00", "50.0", false, 0.40},
		{"1000 three years", Euros(1000, 0), 3, "537.50", "462.50", "53.8", true, 0.45},
		{"zero", 0, 0, "0.00", "0.00", "0.0", false, 0.40},
		{"below threshold", Euros(100, 0), 0, "80.00", "20.00", "80.0", false, 0.40},
		{"at threshold", Euros(250, 0), 5, "200.00", "50.00", "80.0", true, 0.45},
		{"two years no bonus", Euros(500, 0), 2, "300.00", "200.00", "60.0", false, 0.40},
		{"cent rounding", Money(25001), 0, "200.00", "50.01", "80.0", false, 0.40},
		{"half cent rounds up", Money(25010), 3, "200.05", "50.05", "80.0", true, 0.45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.amount, tt.years)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Deduction.String() != tt.wantDeduction {
				t.Errorf("Deduction = %s, want %s", got.Deduction, tt.wantDeduction)
			}
			if got.NetCost.String() != tt.wantNet {
				t.Errorf("NetCost = %s, want %s", got.NetCost, tt.wantNet)
			}
			if got.FormatDiscount() != tt.wantDiscount {
				t.Errorf("Discount = %s, want %s", got.FormatDiscount(), tt.wantDiscount)
			}
			if got.RecurringBonus != tt.wantBonus {
				t.Errorf("RecurringBonus = %v, want %v", got.RecurringBonus, tt.wantBonus)
			}
			if got.AboveRate != tt.wantAboveRate {
				t.Errorf("AboveRate = %v, want %v", got.AboveRate, tt.wantAboveRate)
			}
			if got.FirstRate != 0.80 {
				t.Errorf("FirstRate = %v, want 0.80", got.FirstRate)
			}
			if got.Deduction+got.NetCost != got.Amount {
				t.Errorf("Deduction + NetCost = %d, want %d", got.Deduction+got.NetCost, got.Amount)
			}
		})
	}
}

// TestCalculate_DiscountPercent checks the float accessor for the bonus case.
func TestCalculate_DiscountPercent(t *testing.T) {
	got, _ := Calculate(Euros(1000, 0), 3)
	if got.DiscountPercent() != 53.8 {
		t.Errorf("DiscountPercent = %v, want 53.8", got.DiscountPercent())
	}
}

// TestCalculate_Negative tests that negative donations are rejected.
func TestCalculate_Negative(t *testing.T) {
	_, err := Calculate(Money(-1), 0)
	if !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestDeductionAboveThreshold(t *testing.T) {
	if got := DeductionAboveThreshold(Euros(1000, 0), false); got.String() != "300.00" {
		t.Errorf("base = %s, want 300.00", got)
	}
	if got := DeductionAboveThreshold(Euros(1000, 0), true); got.String() != "337.50" {
		t.Errorf("bonus = %s, want 337.50", got)
	}
	if got := DeductionAboveThreshold(Euros(100, 0), true); got != 0 {
		t.Errorf("below threshold = %s, want 0.00", got)
	}
}

func TestMoney_StringAndParse(t *testing.T) {
	cases := map[string]Money{
		"0.00":    0,
		"12.50":   1250,
		"1000.00": 100000,
		"-3.05":   -305,
	}
	for want, m := range cases {
		if m.String() != want {
			t.Errorf("Money(%d).String() = %s, want %s", int64(m), m.String(), want)
		}
		parsed, err := ParseMoney(want)
		if err != nil || parsed != m {
			t.Errorf("ParseMoney(%q) = %d, %v", want, parsed, err)
		}
	}
	if m, err := ParseMoney("7.5"); err != nil || m != 750 {
		t.Errorf("ParseMoney(7.5) = %d, %v", m, err)
	}
	if _, err := ParseMoney("1.234"); err == nil {
		t.Error("expected error for three decimals")
	}
}
