package automation

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"assocmail/internal/domain/email"
	"assocmail/internal/domain/locale"
	"assocmail/internal/domain/member"
	"assocmail/internal/domain/tax"
)

// Placeholder names available to every template.
const (
	VarFirstName         = "first_name"
	VarFullName          = "full_name"
	VarEmail             = "email"
	VarMembershipType    = "membership_type"
	VarMembershipEndDate = "membership_end_date"
	VarPaymentAmount     = "payment_amount"
	VarCurrentDate       = "current_date"
	VarReceiptNumber     = "receipt_number"

	// Sponsor-only values; blank or zero for everyone else.
	VarTaxDeduction       = "tax_deduction"
	VarNetCost            = "net_cost"
	VarDiscountPercent    = "discount_percent"
	VarDeductionAbove250  = "deduction_above_250"
	VarTaxDeductionInfo   = "tax_deduction_info"
	VarRecurringBonusInfo = "recurring_bonus_info"
	VarTaxReceiptNotice   = "tax_receipt_notice"
)

// DateLayout is the display format for dates in templates.
const DateLayout = "02/01/2006"

var languageTags = map[locale.Locale]language.Tag{
	locale.English: language.English,
	locale.Spanish: language.Spanish,
	locale.Catalan: language.Catalan,
}

// ReceiptNumber synthesizes the receipt identifier for a member in a year.
func ReceiptNumber(year int, memberID int64) string {
	return fmt.Sprintf("EA-%d-%06d", year, memberID)
}

// ResolveVariables assembles the placeholder values for m. The current date
// is taken in now's location; the end date is a calendar date. Sponsor payments additionally get the tax
// deduction breakdown, computed from m.RecurringYears.
// PRE: m is not nil; m.RecurringYears is current
// POST: every Var* key is present in the result
func ResolveVariables(m *member.Member, l locale.Locale, now time.Time) email.Variables {
	p := proseFor(l)
	tag, ok := languageTags[l]
	if !ok {
		tag = language.English
	}

	var v email.Variables
	v.Set(VarFirstName, m.FirstName)
	v.Set(VarFullName, m.FullName())
	v.Set(VarEmail, m.Email)
	v.Set(VarMembershipType, cases.Title(tag).String(string(m.MembershipType)))
	if m.HasEndDate() {
		v.Set(VarMembershipEndDate, m.MembershipEndDate.Format(DateLayout))
	} else {
		v.Set(VarMembershipEndDate, p.notApplicable)
	}
	v.Set(VarPaymentAmount, m.PaymentAmount.String())
	v.Set(VarCurrentDate, now.Format(DateLayout))
	v.Set(VarReceiptNumber, ReceiptNumber(now.Year(), m.ID))

	v.Set(VarTaxDeduction, tax.Money(0).String())
	v.Set(VarNetCost, tax.Money(0).String())
	v.Set(VarDiscountPercent, "0.0")
	v.Set(VarDeductionAbove250, tax.Money(0).String())
	v.Set(VarTaxDeductionInfo, "")
	v.Set(VarRecurringBonusInfo, "")
	v.Set(VarTaxReceiptNotice, "")

	if !m.IsSponsorPayment() {
		return v
	}
	res, err := tax.Calculate(m.PaymentAmount, m.RecurringYears)
	if err != nil {
		return v
	}
	above := tax.DeductionAboveThreshold(m.PaymentAmount, res.RecurringBonus)

	v.Set(VarTaxDeduction, res.Deduction.String())
	v.Set(VarNetCost, res.NetCost.String())
	v.Set(VarDiscountPercent, res.FormatDiscount())
	v.Set(VarDeductionAbove250, above.String())
	v.Set(VarTaxDeductionInfo, p.deduction(res))
	if res.RecurringBonus {
		v.Set(VarRecurringBonusInfo, p.bonus(m.RecurringYears, above))
	}
	v.Set(VarTaxReceiptNotice, p.receiptNotice)
	return v
}
