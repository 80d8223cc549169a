package fundapi

import (
	"strings"
	"testing"
	"time"
)

func TestEscapeMarkdownV2(t *testing.T) {
	cases := []struct{ in, want string }{
		{"account_creation", `account\_creation`},
		{"1df3-4a", `1df3\-4a`},
		{"100.50", `100\.50`},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		if got := EscapeMarkdownV2(tc.in); got != tc.want {
			t.Errorf("EscapeMarkdownV2(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// Every interpolated field carries MarkdownV2-special characters: uuids have
// '-', types have '_', amounts and timestamps have '.'. Telegram rejects the
// whole message if any of them arrives unescaped.
func TestFinanceMessageEscapesFields(t *testing.T) {
	now := time.Now().UTC()
	rec := &TransactionRecord{
		Id:         "7f2c1c9a-22aa-4f6e-9a01-3f8e5b1d2c44",
		TxHash:     "abc_123-def",
		Type:       TypeAccountCreation,
		Status:     StatusConfirmed,
		Amount:     Amount{Value: "100.5000000", Currency: "XLM"},
		CampaignId: "c0ffee00-1111-2222-3333-444455556666",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	msg := financeMessage(rec, "https://fund.example.com")

	for _, want := range []string{
		`7f2c1c9a\-22aa\-4f6e\-9a01\-3f8e5b1d2c44`,
		`account\_creation`,
		`100\.5000000`,
		`c0ffee00\-1111\-2222\-3333\-444455556666`,
		`abc\_123\-def`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing escaped field %q:\n%s", want, msg)
		}
	}
	// The link target stays a working URL
	if !strings.Contains(msg, "(https://fund.example.com/transactions/7f2c1c9a-22aa-4f6e-9a01-3f8e5b1d2c44)") {
		t.Errorf("link target mangled:\n%s", msg)
	}
	if !strings.Contains(msg, "Time: ") {
		t.Errorf("message missing timestamp:\n%s", msg)
	}
}
