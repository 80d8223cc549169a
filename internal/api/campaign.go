package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dchest/uniuri"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fundlink/internal/fundapi"
)

type campaignParams struct {
	Title         string  `json:"title" binding:"required" validate:"required,max=150"`
	Description   string  `json:"description"`
	WalletAddress string  `json:"wallet_address" binding:"required"` // Receiving Stellar account
	Currency      string  `json:"currency"`
	Goal          float64 `json:"goal"`
	Status        string  `json:"status"` // draft, active, funded, closed
}

type donateParams struct {
	Amount    float64          `json:"amount" binding:"required"`
	Currency  string           `json:"currency"`
	TxHash    string           `json:"tx_hash"` // Optional: set once the wallet has signed
	Message   string           `json:"message" validate:"max=500"`
	Anonymous bool             `json:"anonymous"`
	Metadata  fundapi.Metadata `json:"metadata"`
}

func CreateCampaign(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	var params campaignParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	limits := fundapi.CurrentAppConfig.Settings.Limits
	if params.Goal < 0 || params.Goal > limits.GoalMax {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid goal"})
		return
	}
	currency := params.Currency
	if currency == "" {
		currency = fundapi.CurrentAppConfig.NativeAsset
	}
	campaign := fundapi.Campaign{
		Id:            uuid.NewString(),
		Slug:          uniuri.NewLen(10),
		OwnerId:       donor.Id,
		Title:         params.Title,
		Description:   params.Description,
		WalletAddress: params.WalletAddress,
		Currency:      currency,
		Goal:          params.Goal,
		Status:        fundapi.CampaignActive,
	}
	if res := app.Db.Create(&campaign); res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": res.Error.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "campaign": campaign})
}

func GetCampaign(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	var campaign fundapi.Campaign
	res := app.Db.Where("slug = ?", c.Param("slug")).First(&campaign)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "campaign not found"})
		return
	}
	// Raised is cached on settlement; prefer the cache when warm
	raisedCached, _ := app.Rdb.Get(ctx, fmt.Sprintf("campaign_raised_%s", campaign.Id)).Result()
	if len(raisedCached) > 0 {
		var raised float64
		if err := json.Unmarshal([]byte(raisedCached), &raised); err == nil {
			campaign.Raised = raised
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "campaign": campaign})
}

func GetCampaignsList(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	page, limit := pageParams(c)
	if page == 0 {
		return
	}
	q := app.Db.Model(&fundapi.Campaign{})
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var campaigns []fundapi.Campaign
	q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&campaigns)
	c.JSON(http.StatusOK, gin.H{"success": true, "campaigns": campaigns})
}

// UpdateCampaign lets the owner edit copy and lifecycle. Money fields are
// off limits: Raised only moves through donation settlement.
func UpdateCampaign(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	var campaign fundapi.Campaign
	res := app.Db.Where("slug = ?", c.Param("slug")).First(&campaign)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "campaign not found"})
		return
	}
	if campaign.OwnerId != donor.Id && donor.Group < fundapi.GroupAdmin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "not the campaign owner"})
		return
	}
	var params campaignParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	campaign.Title = params.Title
	campaign.Description = params.Description
	if params.WalletAddress != "" {
		campaign.WalletAddress = params.WalletAddress
	}
	if params.Goal > 0 {
		campaign.Goal = params.Goal
	}
	switch params.Status {
	case "":
	case fundapi.CampaignDraft, fundapi.CampaignActive, fundapi.CampaignFunded, fundapi.CampaignClosed:
		campaign.Status = params.Status
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status"})
		return
	}
	if res := app.Db.Save(&campaign); res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": res.Error.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "campaign": campaign})
}

// Donate creates a donation plus the transaction record tracking it on the
// ledger. The record starts pending; the wallet attaches the hash later via
// the transactions API.
func Donate(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	var campaign fundapi.Campaign
	res := app.Db.Where("slug = ?", c.Param("slug")).First(&campaign)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "campaign not found"})
		return
	}
	if campaign.Status != fundapi.CampaignActive {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "campaign is not accepting donations"})
		return
	}
	var params donateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	limits := fundapi.CurrentAppConfig.Settings.Limits
	if params.Amount < limits.DonationMin {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "min_donation"})
		return
	}
	if params.Amount > limits.DonationMax {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "max_donation"})
		return
	}
	currency := params.Currency
	if currency == "" {
		currency = campaign.Currency
	}
	donation := fundapi.Donation{
		Id:         uuid.NewString(),
		CampaignId: campaign.Id,
		DonorId:    donor.Id,
		Amount:     params.Amount,
		Currency:   currency,
		Message:    params.Message,
		Anonymous:  params.Anonymous,
		Status:     fundapi.DonationPending,
	}
	if res := app.Db.Create(&donation); res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": res.Error.Error()})
		return
	}
	meta := params.Metadata
	if meta == nil {
		meta = fundapi.Metadata{}
	}
	meta["campaign_slug"] = campaign.Slug
	if !params.Anonymous {
		meta["donor_name"] = donor.Name
	}
	rec, err := app.Svc.Create(c.Request.Context(), fundapi.CreateTxInput{
		Type:          fundapi.TypeDonation,
		TxHash:        params.TxHash,
		Amount:        fundapi.Amount{Value: strconv.FormatFloat(params.Amount, 'f', -1, 64), Currency: currency},
		WalletAddress: campaign.WalletAddress,
		SourceId:      donation.Id,
		SourceType:    "donation",
		CampaignId:    campaign.Id,
		DonorId:       donor.Id,
		Metadata:      meta,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	donation.TransactionId = rec.Id
	if res := app.Db.Save(&donation); res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": res.Error.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "donation": donation, "transaction": rec})
}
