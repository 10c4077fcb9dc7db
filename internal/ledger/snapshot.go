package ledger

import (
	"fmt"
	"time"

	"github.com/chetannagda/payswift-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// snapshot is the on-disk layout: {users, transactions, nextUserId, nextTransactionId}.
type snapshot struct {
	Users             map[int64]userRecord `json:"users"`
	Transactions      map[int64]txRecord   `json:"transactions"`
	NextUserID        int64                `json:"nextUserId"`
	NextTransactionID int64                `json:"nextTransactionId"`
}

type userRecord struct {
	ID              int64           `json:"id"`
	Username        string          `json:"username"`
	Email           string          `json:"email"`
	Password        string          `json:"password"`
	Phone           *string         `json:"phone"`
	WalletBalance   decimal.Decimal `json:"walletBalance"`
	UPIID           *string         `json:"upiId"`
	EthereumAddress *string         `json:"ethereumAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type txRecord struct {
	ID                    int64              `json:"id"`
	SenderID              int64              `json:"senderId"`
	ReceiverID            *int64             `json:"receiverId"`
	Type                  domain.PaymentType `json:"type"`
	ReceiverUPIID         *string            `json:"receiverUpiId"`
	ReceiverAccountNumber *string            `json:"receiverAccountNumber"`
	ReceiverIFSCCode      *string            `json:"receiverIfscCode"`
	BeneficiaryName       *string            `json:"beneficiaryName"`
	ReceiverEthAddress    *string            `json:"receiverEthAddress"`
	Amount                decimal.Decimal    `json:"amount"`
	Currency              string             `json:"currency"`
	Status                domain.Status      `json:"status"`
	Note                  *string            `json:"note"`
	VerificationCode      *string            `json:"verificationCode"`
	VerificationExpiresAt *time.Time         `json:"verificationExpiresAt"`
	ExchangeRate          *decimal.Decimal   `json:"exchangeRate"`
	ConvertedAmount       *decimal.Decimal   `json:"convertedAmount"`
	FailureReason         *string            `json:"failureReason"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

func fromState(st *state) snapshot {
	snap := snapshot{
		Users:             make(map[int64]userRecord, len(st.users)),
		Transactions:      make(map[int64]txRecord, len(st.txs)),
		NextUserID:        st.nextUserID,
		NextTransactionID: st.nextTxID,
	}
	for id, u := range st.users {
		snap.Users[id] = userRecord{
			ID:              u.ID,
			Username:        u.Username,
			Email:           u.Email,
			Password:        u.PasswordHash,
			Phone:           u.Phone,
			WalletBalance:   u.WalletBalance,
			UPIID:           u.UPIID,
			EthereumAddress: u.EthereumAddress,
			CreatedAt:       u.CreatedAt,
			UpdatedAt:       u.UpdatedAt,
		}
	}
	for id, t := range st.txs {
		f := domain.FlattenReceiver(t.Receiver)
		snap.Transactions[id] = txRecord{
			ID:                    t.ID,
			SenderID:              t.SenderID,
			ReceiverID:            t.ReceiverID,
			Type:                  t.Type(),
			ReceiverUPIID:         f.UPIID,
			ReceiverAccountNumber: f.AccountNumber,
			ReceiverIFSCCode:      f.IFSCCode,
			BeneficiaryName:       f.BeneficiaryName,
			ReceiverEthAddress:    f.EthAddress,
			Amount:                t.Amount,
			Currency:              t.Currency,
			Status:                t.Status,
			Note:                  t.Note,
			VerificationCode:      t.VerificationCode,
			VerificationExpiresAt: t.VerificationExpiresAt,
			ExchangeRate:          t.ExchangeRate,
			ConvertedAmount:       t.ConvertedAmount,
			FailureReason:         t.FailureReason,
			CreatedAt:             t.CreatedAt,
			UpdatedAt:             t.UpdatedAt,
		}
	}
	return snap
}

func (snap snapshot) toState() (*state, error) {
	st := newState()
	for id, r := range snap.Users {
		st.users[id] = domain.User{
			ID:              r.ID,
			Username:        r.Username,
			Email:           r.Email,
			PasswordHash:    r.Password,
			Phone:           r.Phone,
			WalletBalance:   r.WalletBalance,
			UPIID:           r.UPIID,
			EthereumAddress: r.EthereumAddress,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		}
		if id >= st.nextUserID {
			st.nextUserID = id + 1
		}
	}
	for id, r := range snap.Transactions {
		recv, err := domain.ReceiverFromFields(r.Type, domain.ReceiverFields{
			UPIID:           r.ReceiverUPIID,
			AccountNumber:   r.ReceiverAccountNumber,
			IFSCCode:        r.ReceiverIFSCCode,
			BeneficiaryName: r.BeneficiaryName,
			EthAddress:      r.ReceiverEthAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", id, err)
		}
		st.txs[id] = domain.Transaction{
			ID:                    r.ID,
			SenderID:              r.SenderID,
			ReceiverID:            r.ReceiverID,
			Receiver:              recv,
			Amount:                r.Amount,
			Currency:              r.Currency,
			Status:                r.Status,
			Note:                  r.Note,
			VerificationCode:      r.VerificationCode,
			VerificationExpiresAt: r.VerificationExpiresAt,
			ExchangeRate:          r.ExchangeRate,
			ConvertedAmount:       r.ConvertedAmount,
			FailureReason:         r.FailureReason,
			CreatedAt:             r.CreatedAt,
			UpdatedAt:             r.UpdatedAt,
		}
		if id >= st.nextTxID {
			st.nextTxID = id + 1
		}
	}
	if snap.NextUserID > st.nextUserID {
		st.nextUserID = snap.NextUserID
	}
	if snap.NextTransactionID > st.nextTxID {
		st.nextTxID = snap.NextTransactionID
	}
	return st, nil
}

// Export returns every user and transaction, oldest first. cmd/migrate uses
// it to copy a snapshot into Postgres.
func (s *FileStore) Export() ([]domain.User, []domain.Transaction) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.st.users))
	for id := int64(1); id < s.st.nextUserID; id++ {
		if u, ok := s.st.users[id]; ok {
			users = append(users, u)
		}
	}
	txs := make([]domain.Transaction, 0, len(s.st.txs))
	for id := int64(1); id < s.st.nextTxID; id++ {
		if t, ok := s.st.txs[id]; ok {
			txs = append(txs, t)
		}
	}
	return users, txs
}
