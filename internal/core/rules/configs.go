package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/anders-planck/parseur/internal/core"
)

// paymentMethods accepted on receipts. Anything else is reported as info
// only, the field is free-form in the wild.
var paymentMethods = map[string]struct{}{
	"cash": {}, "card": {}, "credit": {}, "debit": {},
	"mobile": {}, "online": {}, "check": {}, "other": {},
}

func buildConfigs(e *Engine) map[core.DocumentType]TypeConfig {
	return map[core.DocumentType]TypeConfig{
		core.TypeInvoice:       invoiceConfig(e),
		core.TypeReceipt:       receiptConfig(e),
		core.TypePayslip:       payslipConfig(),
		core.TypeBankStatement: bankStatementConfig(e),
		core.TypeTaxForm:       taxFormConfig(e),
		core.TypeContract:      contractConfig(),
		core.TypeOther:         {},
	}
}

func invoiceConfig(e *Engine) TypeConfig {
	return TypeConfig{
		Required: []string{"invoice_number", "date", "total", "currency"},
		Optional: []string{"subtotal", "tax", "due_date", "vendor", "line_items"},
		Rules: []Rule{
			{
				Field: "total", Severity: core.SeverityError,
				Message: "total must be greater than zero",
				Check:   positiveWhenPresent("total"),
			},
			{
				Field: "date", Severity: core.SeverityError,
				Message: "invoice date cannot be in the future",
				Check:   dateNotAfter(e, "date"),
			},
			{
				Field: "total", Severity: core.SeverityError,
				Message: "subtotal plus tax does not match total",
				Check: func(data core.JSONMap) (bool, error) {
					subtotal, okSub := data.Number("subtotal")
					tax, okTax := data.Number("tax")
					total, okTotal := data.Number("total")
					if !okSub || !okTax || !okTotal {
						return true, nil
					}
					return approxEqual(subtotal+tax, total), nil
				},
			},
			{
				Field: "due_date", Severity: core.SeverityWarning,
				Message: "due date is before the invoice date",
				Check:   dateOrdered("date", "due_date"),
			},
			{
				Field: "invoice_number", Severity: core.SeverityError,
				Message: "invoice number length must be between 1 and 99 characters",
				Check: func(data core.JSONMap) (bool, error) {
					s, ok := data.String("invoice_number")
					if !ok {
						return true, nil
					}
					return len(s) >= 1 && len(s) < 100, nil
				},
			},
		},
	}
}

func receiptConfig(e *Engine) TypeConfig {
	return TypeConfig{
		Required: []string{"merchant", "total", "date", "currency"},
		Optional: []string{"tax", "tip", "payment_method", "items"},
		Rules: []Rule{
			{
				Field: "total", Severity: core.SeverityError,
				Message: "total must be greater than zero",
				Check:   positiveWhenPresent("total"),
			},
			{
				Field: "merchant", Severity: core.SeverityError,
				Message: "merchant name is empty",
				Check: func(data core.JSONMap) (bool, error) {
					if _, ok := data.Lookup("merchant"); !ok {
						return true, nil
					}
					// Accept either a bare string or a nested object
					// with a name field.
					if s, ok := data.String("merchant"); ok {
						return s != "", nil
					}
					if s, ok := data.String("merchant.name"); ok {
						return s != "", nil
					}
					return data.Has("merchant.name"), nil
				},
			},
			{
				Field: "date", Severity: core.SeverityError,
				Message: "receipt date cannot be in the future",
				Check:   dateNotAfter(e, "date"),
			},
			{
				Field: "payment_method", Severity: core.SeverityInfo,
				Message: "payment method is not one of the known values",
				Check: func(data core.JSONMap) (bool, error) {
					s, ok := data.String("payment_method")
					if !ok || s == "" {
						return true, nil
					}
					_, known := paymentMethods[strings.ToLower(s)]
					return known, nil
				},
			},
			{
				Field: "tax", Severity: core.SeverityWarning,
				Message: "tax amount exceeds the receipt total",
				Check:   lessThanWhenPresent("tax", "total"),
			},
			{
				Field: "tip", Severity: core.SeverityWarning,
				Message: "tip amount exceeds the receipt total",
				Check:   lessThanWhenPresent("tip", "total"),
			},
		},
	}
}

func payslipConfig() TypeConfig {
	return TypeConfig{
		Required: []string{"employee_name", "period", "gross_salary", "net_salary", "currency"},
		Optional: []string{"deductions", "employer", "position"},
		Rules: []Rule{
			{
				Field: "gross_salary", Severity: core.SeverityError,
				Message: "gross salary must be greater than zero",
				Check:   positiveWhenPresent("gross_salary"),
			},
			{
				Field: "net_salary", Severity: core.SeverityError,
				Message: "net salary must be positive and not exceed gross salary",
				Check: func(data core.JSONMap) (bool, error) {
					net, okNet := data.Number("net_salary")
					gross, okGross := data.Number("gross_salary")
					if !okNet || !okGross {
						return true, nil
					}
					return net > 0 && net <= gross+NumericTolerance, nil
				},
			},
			{
				Field: "net_salary", Severity: core.SeverityError,
				Message: "gross salary minus deductions does not match net salary",
				Check: func(data core.JSONMap) (bool, error) {
					deductions, okDed := data.Number("deductions")
					if !okDed {
						return true, nil
					}
					gross, okGross := data.Number("gross_salary")
					net, okNet := data.Number("net_salary")
					if !okGross || !okNet {
						return true, nil
					}
					return approxEqual(gross-deductions, net), nil
				},
			},
			{
				Field: "employee_name", Severity: core.SeverityError,
				Message: "employee name length must be between 1 and 199 characters",
				Check: func(data core.JSONMap) (bool, error) {
					s, ok := data.String("employee_name")
					if !ok {
						return true, nil
					}
					return len(s) >= 1 && len(s) < 200, nil
				},
			},
			{
				Field: "period", Severity: core.SeverityError,
				Message: "pay period is empty",
				Check: func(data core.JSONMap) (bool, error) {
					if _, ok := data.Lookup("period"); !ok {
						return true, nil
					}
					return data.Has("period"), nil
				},
			},
		},
	}
}

func bankStatementConfig(e *Engine) TypeConfig {
	return TypeConfig{
		Required: []string{"account_number", "period_start", "period_end", "currency"},
		Optional: []string{"opening_balance", "closing_balance", "transactions"},
		Rules: []Rule{
			{
				Field: "period_end", Severity: core.SeverityError,
				Message: "statement period ends before it starts",
				Check:   dateOrdered("period_start", "period_end"),
			},
			{
				Field: "period_start", Severity: core.SeverityError,
				Message: "statement period starts in the future",
				Check:   dateNotAfter(e, "period_start"),
			},
			{
				Field: "closing_balance", Severity: core.SeverityWarning,
				Message: "opening balance plus transactions does not match closing balance",
				Check: func(data core.JSONMap) (bool, error) {
					opening, okOpen := data.Number("opening_balance")
					closing, okClose := data.Number("closing_balance")
					raw, okTx := data.Lookup("transactions")
					if !okOpen || !okClose || !okTx {
						return true, nil
					}
					txs, ok := raw.([]any)
					if !ok {
						return false, fmt.Errorf("transactions is not a list")
					}
					sum := 0.0
					for _, t := range txs {
						obj, ok := t.(map[string]any)
						if !ok {
							return false, fmt.Errorf("transaction entry is not an object")
						}
						amount, ok := core.JSONMap(obj).Number("amount")
						if !ok {
							return false, fmt.Errorf("transaction amount is not numeric")
						}
						sum += amount
					}
					return approxEqual(opening+sum, closing), nil
				},
			},
		},
	}
}

func taxFormConfig(e *Engine) TypeConfig {
	return TypeConfig{
		Required: []string{"tax_year", "taxpayer_name"},
		Optional: []string{"total_tax", "total_income", "form_type"},
		Rules: []Rule{
			{
				Field: "tax_year", Severity: core.SeverityWarning,
				Message: "tax year is outside the plausible range",
				Check: func(data core.JSONMap) (bool, error) {
					year, ok := data.Number("tax_year")
					if !ok {
						return true, nil
					}
					current := float64(e.now().Year())
					return year >= current-10 && year <= current+1, nil
				},
			},
			{
				Field: "total_tax", Severity: core.SeverityError,
				Message: "total tax cannot be negative",
				Check: func(data core.JSONMap) (bool, error) {
					tax, ok := data.Number("total_tax")
					if !ok {
						return true, nil
					}
					return tax >= 0, nil
				},
			},
		},
	}
}

func contractConfig() TypeConfig {
	return TypeConfig{
		Required: []string{"parties", "effective_date"},
		Optional: []string{"expiration_date", "contract_type", "value"},
		Rules: []Rule{
			{
				Field: "effective_date", Severity: core.SeverityError,
				Message: "effective date is not a recognizable date",
				Check: func(data core.JSONMap) (bool, error) {
					if !data.Has("effective_date") {
						return true, nil
					}
					_, ok := data.Date("effective_date")
					return ok, nil
				},
			},
			{
				Field: "expiration_date", Severity: core.SeverityWarning,
				Message: "expiration date is before the effective date",
				Check:   dateOrdered("effective_date", "expiration_date"),
			},
		},
	}
}

// Shared predicate builders.

func positiveWhenPresent(field string) Predicate {
	return func(data core.JSONMap) (bool, error) {
		v, ok := data.Number(field)
		if !ok {
			if data.Has(field) {
				return false, fmt.Errorf("%s is not numeric", field)
			}
			return true, nil
		}
		return v > 0, nil
	}
}

func lessThanWhenPresent(field, limitField string) Predicate {
	return func(data core.JSONMap) (bool, error) {
		v, okV := data.Number(field)
		limit, okL := data.Number(limitField)
		if !okV || !okL {
			return true, nil
		}
		return v < limit, nil
	}
}

// dateNotAfter checks field <= today. End of day is forgiven, the models
// report dates without time components.
func dateNotAfter(e *Engine, field string) Predicate {
	return func(data core.JSONMap) (bool, error) {
		if !data.Has(field) {
			return true, nil
		}
		d, ok := data.Date(field)
		if !ok {
			return false, fmt.Errorf("%s is not a recognizable date", field)
		}
		today := e.now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour - time.Nanosecond)
		return !d.After(today), nil
	}
}

func dateOrdered(earlier, later string) Predicate {
	return func(data core.JSONMap) (bool, error) {
		a, okA := data.Date(earlier)
		b, okB := data.Date(later)
		if !okA || !okB {
			return true, nil
		}
		return !b.Before(a), nil
	}
}
