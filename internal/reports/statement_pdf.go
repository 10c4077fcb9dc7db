package reports

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/chetannagda/payswift-backend/internal/money"
)

const maxPDFRows = 200

var statementCols = []struct {
	title string
	width float64
	align string
}{
	{"DATE", 24, "C"},
	{"TYPE", 26, "C"},
	{"DETAILS", 76, "L"},
	{"STATUS", 26, "C"},
	{"AMOUNT", 30, "R"},
}

// RenderPDF lays the statement out on A4 pages.
func RenderPDF(s Statement, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 48)
	pdf.SetTextColor(235, 235, 235)
	pdf.Text(25, 140, "PAYSWIFT")

	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "PaySwift Statement")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.Cell(0, 6, "Month: "+s.Month)
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s (#%d)", s.User.Username, s.User.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, "Wallet balance: "+money.Group(s.User.WalletBalance)+" "+s.Currency)
	pdf.Ln(10)

	pdf.SetDrawColor(200, 200, 200)
	pdf.SetFillColor(248, 248, 248)
	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 11)

	sumW := []float64{60.6, 60.6, 60.6}
	pdf.CellFormat(sumW[0], 10, "Received ("+s.Currency+")", "1", 0, "C", true, 0, "")
	pdf.CellFormat(sumW[1], 10, "Spent ("+s.Currency+")", "1", 0, "C", true, 0, "")
	pdf.CellFormat(sumW[2], 10, "Net ("+s.Currency+")", "1", 1, "C", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(sumW[0], 10, money.Group(s.Received), "1", 0, "C", false, 0, "")
	pdf.CellFormat(sumW[1], 10, money.Group(s.Spent), "1", 0, "C", false, 0, "")
	pdf.CellFormat(sumW[2], 10, money.Group(s.Net), "1", 1, "C", false, 0, "")
	pdf.Ln(6)

	tableHeader(pdf)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(30, 30, 30)

	if len(s.Items) == 0 {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 8, "No transactions this month", "1", 1, "C", false, 0, "")
	}

	for i, it := range s.Items {
		if i >= maxPDFRows {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.CellFormat(0, 8, "...truncated (too many rows)", "1", 1, "C", false, 0, "")
			break
		}

		if pdf.GetY() > 270 {
			pdf.AddPage()
			tableHeader(pdf)
			pdf.SetFont("Helvetica", "", 9)
		}

		pdf.CellFormat(statementCols[0].width, 8, it.CreatedAt.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(statementCols[1].width, 8, string(it.Type), "1", 0, "C", false, 0, "")

		x := pdf.GetX()
		y := pdf.GetY()
		pdf.MultiCell(statementCols[2].width, 8, trimTo(it.Title, 80), "1", "L", false)
		usedH := pdf.GetY() - y
		pdf.SetXY(x+statementCols[2].width, y)

		pdf.CellFormat(statementCols[3].width, usedH, string(it.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(statementCols[4].width, usedH, money.FormatSigned(it.Amount, it.Outgoing)+" "+it.Currency, "1", 1, "R", false, 0, "")
	}

	pdf.SetY(-18)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 10, "Generated by PaySwift - "+generatedAt.UTC().Format(time.RFC3339), "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf build failed: %w", err)
	}
	return buf.Bytes(), nil
}

func tableHeader(pdf *gofpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(245, 245, 245)
	pdf.SetTextColor(20, 20, 20)
	for i, col := range statementCols {
		ln := 0
		if i == len(statementCols)-1 {
			ln = 1
		}
		pdf.CellFormat(col.width, 8, col.title, "1", ln, col.align, true, 0, "")
	}
}

func maskAccount(acct string) string {
	acct = strings.TrimSpace(acct)
	if len(acct) <= 4 {
		return acct
	}
	return strings.Repeat("x", len(acct)-4) + acct[len(acct)-4:]
}

func shortAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func trimTo(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
