// Package payments drives a transaction from intent to settlement or failure.
//
// Policy per rail:
//
//	UPI            gated iff amount > 2000; PENDING when gated, else COMPLETED at creation
//	BANK           always PENDING; settles through CompleteBankTransfer
//	INTERNATIONAL  never gated; COMPLETED at creation
//
// The sender is debited exactly once, in the same atomic unit that moves the
// transaction to COMPLETED.
package payments

import (
	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/domain"
)

// UPIVerificationThreshold is the largest UPI amount that settles without a code.
var UPIVerificationThreshold = decimal.NewFromInt(2000)

// plan is what the policy decides for a new transaction.
type plan struct {
	initial   domain.Status
	needsCode bool
}

func planFor(typ domain.PaymentType, amount decimal.Decimal) plan {
	switch typ {
	case domain.TypeUPI:
		if amount.GreaterThan(UPIVerificationThreshold) {
			return plan{initial: domain.StatusPending, needsCode: true}
		}
		return plan{initial: domain.StatusCompleted}
	case domain.TypeBank:
		return plan{initial: domain.StatusPending}
	default:
		return plan{initial: domain.StatusCompleted}
	}
}
