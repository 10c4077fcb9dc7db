package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentType identifies the rail a transaction settles on.
type PaymentType string

const (
	TypeUPI           PaymentType = "UPI"
	TypeBank          PaymentType = "BANK"
	TypeInternational PaymentType = "INTERNATIONAL"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Receiver describes who a payment goes to. The concrete variant decides the
// payment type, so a receiver can never disagree with its transaction type.
type Receiver interface {
	Type() PaymentType
	validate() error
}

// UPIReceiver is a virtual payment address such as alice@upi.
type UPIReceiver struct {
	UPIID string
}

func (UPIReceiver) Type() PaymentType { return TypeUPI }

func (r UPIReceiver) validate() error {
	id := strings.TrimSpace(r.UPIID)
	at := strings.Index(id, "@")
	if at <= 0 || at == len(id)-1 || strings.Count(id, "@") != 1 {
		return Invalid("upiId", "must look like name@bank")
	}
	return nil
}

// BankReceiver is an account reachable by NEFT/IMPS.
type BankReceiver struct {
	BeneficiaryName string
	AccountNumber   string
	IFSCCode        string
}

func (BankReceiver) Type() PaymentType { return TypeBank }

func (r BankReceiver) validate() error {
	if strings.TrimSpace(r.AccountNumber) == "" {
		return Invalid("accountNumber", "is required")
	}
	if strings.TrimSpace(r.IFSCCode) == "" {
		return Invalid("ifscCode", "is required")
	}
	return nil
}

// WalletReceiver is an external blockchain wallet.
type WalletReceiver struct {
	EthAddress string
}

func (WalletReceiver) Type() PaymentType { return TypeInternational }

func (r WalletReceiver) validate() error {
	if strings.TrimSpace(r.EthAddress) == "" {
		return Invalid("walletAddress", "is required")
	}
	return nil
}

// ValidateReceiver checks that r is present and well formed.
func ValidateReceiver(r Receiver) error {
	if r == nil {
		return Invalid("receiver", "is required")
	}
	return r.validate()
}

// ReceiverFields is the flattened storage form of a Receiver.
type ReceiverFields struct {
	UPIID           *string
	AccountNumber   *string
	IFSCCode        *string
	BeneficiaryName *string
	EthAddress      *string
}

// FlattenReceiver spreads r over nullable columns, leaving the others nil.
func FlattenReceiver(r Receiver) ReceiverFields {
	var f ReceiverFields
	switch v := r.(type) {
	case UPIReceiver:
		f.UPIID = &v.UPIID
	case BankReceiver:
		f.AccountNumber = &v.AccountNumber
		f.IFSCCode = &v.IFSCCode
		if v.BeneficiaryName != "" {
			f.BeneficiaryName = &v.BeneficiaryName
		}
	case WalletReceiver:
		f.EthAddress = &v.EthAddress
	}
	return f
}

// ReceiverFromFields rebuilds the receiver variant for typ from stored columns.
func ReceiverFromFields(typ PaymentType, f ReceiverFields) (Receiver, error) {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	switch typ {
	case TypeUPI:
		return UPIReceiver{UPIID: deref(f.UPIID)}, nil
	case TypeBank:
		return BankReceiver{
			BeneficiaryName: deref(f.BeneficiaryName),
			AccountNumber:   deref(f.AccountNumber),
			IFSCCode:        deref(f.IFSCCode),
		}, nil
	case TypeInternational:
		return WalletReceiver{EthAddress: deref(f.EthAddress)}, nil
	default:
		return nil, Invalid("type", "unknown payment type "+string(typ))
	}
}

// Transaction is a single money movement recorded in the ledger.
type Transaction struct {
	ID                    int64
	SenderID              int64
	ReceiverID            *int64
	Receiver              Receiver
	Amount                decimal.Decimal
	Currency              string
	Status                Status
	Note                  *string
	VerificationCode      *string
	VerificationExpiresAt *time.Time
	ExchangeRate          *decimal.Decimal
	ConvertedAmount       *decimal.Decimal
	FailureReason         *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Type is derived from the receiver variant.
func (t Transaction) Type() PaymentType {
	if t.Receiver == nil {
		return ""
	}
	return t.Receiver.Type()
}

// Gated reports whether settlement requires a verification code.
func (t Transaction) Gated() bool {
	return t.VerificationCode != nil
}

// Involves reports whether userID is the sender or the in-system receiver.
func (t Transaction) Involves(userID int64) bool {
	return t.SenderID == userID || (t.ReceiverID != nil && *t.ReceiverID == userID)
}

type transactionJSON struct {
	ID                    int64            `json:"id"`
	SenderID              int64            `json:"senderId"`
	ReceiverID            *int64           `json:"receiverId"`
	ReceiverUPIID         *string          `json:"receiverUpiId"`
	ReceiverAccountNumber *string          `json:"receiverAccountNumber"`
	ReceiverIFSCCode      *string          `json:"receiverIfscCode"`
	BeneficiaryName       *string          `json:"beneficiaryName,omitempty"`
	ReceiverEthAddress    *string          `json:"receiverEthAddress"`
	Amount                decimal.Decimal  `json:"amount"`
	Currency              string           `json:"currency"`
	Type                  PaymentType      `json:"type"`
	Status                Status           `json:"status"`
	Note                  *string          `json:"note"`
	VerificationExpiresAt *time.Time       `json:"verificationExpiresAt,omitempty"`
	ExchangeRate          *decimal.Decimal `json:"exchangeRate,omitempty"`
	ConvertedAmount       *decimal.Decimal `json:"convertedAmount,omitempty"`
	FailureReason         *string          `json:"failureReason,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// MarshalJSON flattens the receiver into the API field names. The
// verification code itself is never serialized.
func (t Transaction) MarshalJSON() ([]byte, error) {
	f := FlattenReceiver(t.Receiver)
	return json.Marshal(transactionJSON{
		ID:                    t.ID,
		SenderID:              t.SenderID,
		ReceiverID:            t.ReceiverID,
		ReceiverUPIID:         f.UPIID,
		ReceiverAccountNumber: f.AccountNumber,
		ReceiverIFSCCode:      f.IFSCCode,
		BeneficiaryName:       f.BeneficiaryName,
		ReceiverEthAddress:    f.EthAddress,
		Amount:                t.Amount,
		Currency:              t.Currency,
		Type:                  t.Type(),
		Status:                t.Status,
		Note:                  t.Note,
		VerificationExpiresAt: t.VerificationExpiresAt,
		ExchangeRate:          t.ExchangeRate,
		ConvertedAmount:       t.ConvertedAmount,
		FailureReason:         t.FailureReason,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	})
}

// NewTransaction carries the fields the state machine fixes at creation.
type NewTransaction struct {
	SenderID              int64
	ReceiverID            *int64
	Receiver              Receiver
	Amount                decimal.Decimal
	Currency              string
	Status                Status
	Note                  *string
	VerificationCode      *string
	VerificationExpiresAt *time.Time
	ExchangeRate          *decimal.Decimal
	ConvertedAmount       *decimal.Decimal
}

// TransactionPatch is a partial update; nil fields are left untouched.
type TransactionPatch struct {
	Status                *Status
	FailureReason         *string
	VerificationCode      *string
	VerificationExpiresAt *time.Time
}

// MonthlyStats sums completed money movement for the current month.
type MonthlyStats struct {
	Spent    decimal.Decimal `json:"spent"`
	Received decimal.Decimal `json:"received"`
}

// Apply merges the patch into t. A terminal transaction keeps its status, and
// nothing moves back to PENDING.
func (p TransactionPatch) Apply(t *Transaction) error {
	if p.Status != nil {
		if t.Status.Terminal() || *p.Status == StatusPending {
			return ErrInvalidState
		}
		t.Status = *p.Status
	}
	if p.FailureReason != nil {
		t.FailureReason = p.FailureReason
	}
	if p.VerificationCode != nil {
		t.VerificationCode = p.VerificationCode
	}
	if p.VerificationExpiresAt != nil {
		t.VerificationExpiresAt = p.VerificationExpiresAt
	}
	return nil
}
