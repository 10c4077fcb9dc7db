package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chetannagda/payswift-backend/internal/money"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01/Accounts/"

// WhatsAppNotifier sends event messages through the Twilio Messages API to
// the sender's phone. Events without a phone are skipped.
type WhatsAppNotifier struct {
	AccountSID string
	AuthToken  string
	FromWA     string

	// BaseURL overrides the Twilio endpoint; tests point it at httptest.
	BaseURL string
	Client  *http.Client
}

func NewWhatsAppNotifier(accountSID, authToken, from string) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		AccountSID: accountSID,
		AuthToken:  authToken,
		FromWA:     from,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether credentials are configured.
func (w *WhatsAppNotifier) Enabled() bool {
	return w != nil && w.AccountSID != "" && w.AuthToken != "" && w.FromWA != ""
}

func (w *WhatsAppNotifier) Notify(ctx context.Context, e Event) error {
	if !w.Enabled() || e.Phone == nil || *e.Phone == "" {
		return nil
	}
	return w.send(ctx, *e.Phone, messageFor(e))
}

func (w *WhatsAppNotifier) send(ctx context.Context, toPhone, body string) error {
	form := url.Values{}
	form.Set("From", w.FromWA)
	form.Set("To", "whatsapp:"+toPhone)
	form.Set("Body", body)

	base := w.BaseURL
	if base == "" {
		base = twilioAPIBase
	}
	endpoint := base + w.AccountSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(w.AccountSID, w.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &twilioHTTPError{Status: res.StatusCode, Body: string(raw)}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func messageFor(e Event) string {
	amount := money.Format(e.Amount) + " " + e.Currency
	switch e.Kind {
	case VerificationIssued:
		msg := fmt.Sprintf("PaySwift: your code for payment #%d of %s is %s.", e.TransactionID, amount, e.Code)
		if e.ExpiresAt != nil {
			msg += " Valid until " + e.ExpiresAt.Format("15:04 MST") + "."
		}
		return msg + fmt.Sprintf(" Reply \"#%d %s\" to confirm.", e.TransactionID, e.Code)
	case TransactionSettled:
		return fmt.Sprintf("PaySwift: payment #%d of %s completed.", e.TransactionID, amount)
	case TransactionFailed:
		msg := fmt.Sprintf("PaySwift: payment #%d of %s failed.", e.TransactionID, amount)
		if e.Reason != "" {
			msg += " Reason: " + e.Reason + "."
		}
		return msg
	default:
		return fmt.Sprintf("PaySwift: update on payment #%d.", e.TransactionID)
	}
}

type twilioHTTPError struct {
	Status int
	Body   string
}

func (e *twilioHTTPError) Error() string {
	return fmt.Sprintf("twilio send failed: status %d", e.Status)
}
