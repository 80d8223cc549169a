package stellar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spyzhov/ajson"

	"fundlink/internal/app"
)

// LedgerStatus is the raw outcome of asking Horizon about one transaction
// hash. Mapping it onto a record status is the service's job.
type LedgerStatus struct {
	Found      bool      `json:"found"`
	Successful bool      `json:"successful"`
	Finalized  bool      `json:"finalized"`
	Ledger     int64     `json:"ledger"`
	CloseTime  time.Time `json:"close_time"`
	ResultCode string    `json:"result_code"`
}

type horizonTx struct {
	Hash       string    `json:"hash"`
	Successful bool      `json:"successful"`
	Ledger     int64     `json:"ledger"`
	CreatedAt  time.Time `json:"created_at"`
	ResultXdr  string    `json:"result_xdr"`
}

type Client struct {
	http *resty.Client
	base string
}

// New builds a Horizon client. The HTTP timeout is a transport bound
// (seconds), not the business expiry window the reconciler works with.
func New(baseURL string) *Client {
	timeout := 5 * time.Second
	if raw := os.Getenv("HORIZON_TIMEOUT"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	return &Client{
		http: resty.New().SetTimeout(timeout),
		base: app.RemoveTrailingSlash(baseURL),
	}
}

// CheckStatus asks Horizon for a transaction by hash. A hash the network has
// not seen comes back as Found=false, not as an error. Transport failures
// surface as plain errors with nothing cached or retried here.
func (c *Client) CheckStatus(ctx context.Context, txHash string) (*LedgerStatus, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/transactions/%s", c.base, txHash))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return &LedgerStatus{Found: false}, nil
	case http.StatusOK:
		var tx horizonTx
		if err := json.Unmarshal(resp.Body(), &tx); err != nil {
			return nil, fmt.Errorf("horizon payload: %v", err)
		}
		status := &LedgerStatus{
			Found:      true,
			Successful: tx.Successful,
			Finalized:  tx.Ledger > 0,
			Ledger:     tx.Ledger,
			CloseTime:  tx.CreatedAt,
		}
		if !tx.Successful {
			status.ResultCode = resultCode(resp.Body(), tx.ResultXdr)
		}
		return status, nil
	default:
		return nil, fmt.Errorf("horizon responded %d", resp.StatusCode())
	}
}

// resultCode digs the transaction result code out of Horizon's extras blob
// when present, falling back to the raw result XDR.
func resultCode(body []byte, fallback string) string {
	root, err := ajson.Unmarshal(body)
	if err != nil {
		return fallback
	}
	nodes, err := root.JSONPath("$.extras.result_codes.transaction")
	if err != nil || len(nodes) == 0 {
		return fallback
	}
	code, err := nodes[0].GetString()
	if err != nil {
		return fallback
	}
	return code
}
