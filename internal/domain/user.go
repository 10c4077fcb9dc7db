package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a persisted user record.
type User struct {
	ID              int64           `db:"id" json:"id"`
	Username        string          `db:"username" json:"username"`
	Email           string          `db:"email" json:"email"`
	PasswordHash    string          `db:"password_hash" json:"-"`
	Phone           *string         `db:"phone" json:"phone,omitempty"`
	WalletBalance   decimal.Decimal `db:"wallet_balance" json:"walletBalance"`
	UPIID           *string         `db:"upi_id" json:"upiId"`
	EthereumAddress *string         `db:"ethereum_address" json:"ethereumAddress"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// NewUser carries the fields supplied at registration.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Phone        *string
}

// UserPatch is a partial update; nil fields are left untouched.
type UserPatch struct {
	WalletBalance   *decimal.Decimal
	UPIID           *string
	EthereumAddress *string
	Phone           *string
}

// Apply merges the patch into u.
func (p UserPatch) Apply(u *User) {
	if p.WalletBalance != nil {
		u.WalletBalance = *p.WalletBalance
	}
	if p.UPIID != nil {
		u.UPIID = p.UPIID
	}
	if p.EthereumAddress != nil {
		u.EthereumAddress = p.EthereumAddress
	}
	if p.Phone != nil {
		u.Phone = p.Phone
	}
}
