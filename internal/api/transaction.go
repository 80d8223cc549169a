package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fundlink/internal/fundapi"
)

type txParams struct {
	Type          string           `json:"type" binding:"required"` // payment, account_creation, escrow_setup, milestone_release, donation, other
	TxHash        string           `json:"tx_hash"`                 // Stellar transaction hash, optional until the wallet signs
	Amount        string           `json:"amount"`
	Currency      string           `json:"currency"`
	WalletAddress string           `json:"wallet_address"`
	SourceId      string           `json:"source_id"`
	SourceType    string           `json:"source_type"`
	CampaignId    string           `json:"campaign_id"`
	Metadata      fundapi.Metadata `json:"metadata"`
}

type overrideParams struct {
	Status  string           `json:"status" binding:"required"` // Target status, checked against the transition table
	Details string           `json:"details"`
	TxHash  string           `json:"tx_hash"` // Attaches the ledger hash when leaving pending
	Data    fundapi.Metadata `json:"data"`
}

type PaginatedTx struct {
	Count    int64                       `json:"count"`
	Next     string                      `json:"next"`
	Previous string                      `json:"previous"`
	Results  []fundapi.TransactionRecord `json:"results"`
}

func respondTx(c *gin.Context, code int, rec *fundapi.TransactionRecord) {
	c.JSON(code, gin.H{"success": true, "transaction": rec})
}

func respondErr(c *gin.Context, err error) {
	c.JSON(statusFromErr(err), gin.H{"success": false, "error": err.Error()})
}

func statusFromErr(err error) int {
	switch {
	case errors.Is(err, fundapi.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, fundapi.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fundapi.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, fundapi.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CreateTransaction registers a new ledger transaction for tracking. The
// caller is the authenticated donor; admin-created records carry whatever
// donor the payload names.
func CreateTransaction(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	var params txParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	rec, err := app.Svc.Create(c.Request.Context(), fundapi.CreateTxInput{
		Type:          fundapi.TxType(params.Type),
		TxHash:        params.TxHash,
		Amount:        fundapi.Amount{Value: params.Amount, Currency: params.Currency},
		WalletAddress: params.WalletAddress,
		SourceId:      params.SourceId,
		SourceType:    params.SourceType,
		CampaignId:    params.CampaignId,
		DonorId:       donor.Id,
		Metadata:      params.Metadata,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondTx(c, http.StatusCreated, rec)
}

func GetTransaction(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	rec, err := app.Svc.GetTransaction(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondTx(c, http.StatusOK, rec)
}

// CheckTransaction forces a reconciliation against Horizon.
func CheckTransaction(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	rec, err := app.Svc.CheckTransactionStatus(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondTx(c, http.StatusOK, rec)
}

// OverrideTransaction is the manual path for admins and webhooks. It goes
// through the same transition policy, so a terminal transaction stays
// terminal no matter who asks.
func OverrideTransaction(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	if donor.Group < fundapi.GroupAdmin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "admin group required"})
		return
	}
	var params overrideParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	status, ok := fundapi.ParseStatus(params.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("unknown status %q", params.Status)})
		return
	}
	data := params.Data
	if data == nil {
		data = fundapi.Metadata{}
	}
	if params.TxHash != "" {
		data["tx_hash"] = params.TxHash
	}
	rec, err := app.Svc.UpdateTransactionStatus(c.Request.Context(), c.Param("hash"), status, params.Details, data)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondTx(c, http.StatusOK, rec)
}

// GetTransactionsList filters by status, campaign and donor with page/limit
// pagination, newest first.
func GetTransactionsList(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fundapi.DefaultListLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
		return
	}
	if limit > fundapi.MaxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("maximum limit is %d", fundapi.MaxListLimit)})
		return
	}
	filter := fundapi.TxFilter{
		Status:     fundapi.TxStatus(c.Query("status")),
		CampaignId: c.Query("campaignId"),
		DonorId:    c.Query("userId"),
	}
	recs, total, err := app.Svc.ListTransactions(c.Request.Context(), filter, page, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, paginateTx(c.Request.URL.Path, recs, total, page, limit))
}

func paginateTx(path string, recs []fundapi.TransactionRecord, total int64, page int, limit int) (paginatedTx PaginatedTx) {
	paginatedTx.Results = recs
	if paginatedTx.Results == nil {
		paginatedTx.Results = []fundapi.TransactionRecord{}
	}
	paginatedTx.Count = total
	if int64(page*limit) < total {
		paginatedTx.Next = fmt.Sprintf("%s?page=%d&limit=%d", path, page+1, limit)
	}
	if page > 1 {
		paginatedTx.Previous = fmt.Sprintf("%s?page=%d&limit=%d", path, page-1, limit)
	}
	return paginatedTx
}
