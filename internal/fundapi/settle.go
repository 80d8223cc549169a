package fundapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fundlink/internal/app"
)

// SettleDonation reacts to a terminal transaction of a donation: the
// donation flips to settled or failed and, on confirmation, the campaign
// total grows. Idempotent: a donation already out of pending is left alone.
func SettleDonation(db *gorm.DB, rdb *redis.Client, rec *TransactionRecord) error {
	var donation Donation
	res := db.Where("id = ?", rec.SourceId).First(&donation)
	if res.RowsAffected != 1 {
		return fmt.Errorf("donation %s not found for transaction %s", rec.SourceId, rec.Id)
	}
	if donation.Status != DonationPending {
		return nil
	}
	if rec.Status != StatusConfirmed {
		donation.Status = DonationFailed
		if res := db.Save(&donation); res.Error != nil {
			return res.Error
		}
		return nil
	}
	tx := db.Begin()
	defer func() {
		tx.Rollback()
	}()
	var campaign Campaign
	res = tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", donation.CampaignId).
		First(&campaign)
	if res.RowsAffected != 1 {
		return fmt.Errorf("campaign %s not found for donation %s", donation.CampaignId, donation.Id)
	}
	campaign.Raised = app.RoundAmount(campaign.Raised+donation.Amount, 7)
	if campaign.Goal > 0 && campaign.Raised >= campaign.Goal && campaign.Status == CampaignActive {
		campaign.Status = CampaignFunded
	}
	donation.Status = DonationSettled
	if res := tx.Save(&donation); res.Error != nil {
		return res.Error
	}
	if res := tx.Save(&campaign); res.Error != nil {
		return res.Error
	}
	tx.Commit()
	if rdb != nil {
		raised, _ := json.Marshal(campaign.Raised)
		rdb.Set(context.Background(), fmt.Sprintf("campaign_raised_%s", campaign.Id), raised, 0)
	}
	fmt.Println("[[Settle]] Campaign", campaign.Id, "raised is set to:", strconv.FormatFloat(campaign.Raised, 'f', -1, 64))
	return nil
}
