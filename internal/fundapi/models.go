package fundapi

import (
	"time"

	"gorm.io/gorm"
)

const (
	GroupDonor = 0
	GroupAdmin = 9
)

type Donor struct {
	Id            string         `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at" gorm:"index"`
	Email         string         `json:"email" gorm:"index;not null"`
	Name          string         `json:"name"`
	WalletAddress string         `json:"wallet_address" gorm:"index"` // Stellar account of the donor
	Group         uint           `json:"group"`                       // Group [0:Donor, 9:Admin]
	RefSlug       string         `json:"ref_slug" gorm:"index"`
	Locale        string         `json:"locale"`
	CountryCode   string         `json:"country_code"`
}

const (
	CampaignDraft  = "draft"
	CampaignActive = "active"
	CampaignFunded = "funded"
	CampaignClosed = "closed"
)

type Campaign struct {
	Id            string         `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at" gorm:"index"`
	Slug          string         `json:"slug" gorm:"uniqueIndex;size:16"`
	OwnerId       string         `json:"owner_id" gorm:"size:36;index"`
	Title         string         `json:"title" gorm:"not null"`
	Description   string         `json:"description" gorm:"type:text"`
	WalletAddress string         `json:"wallet_address" gorm:"size:64"` // Receiving Stellar account
	Currency      string         `json:"currency" gorm:"size:12"`
	Goal          float64        `json:"goal"`
	Raised        float64        `json:"raised"`
	Status        string         `json:"status" gorm:"size:12;index"` // Status: draft, active, funded, closed
}

const (
	DonationPending = "pending"
	DonationSettled = "settled"
	DonationFailed  = "failed"
)

// Donation links a donor's pledge to the transaction record that tracks it
// on the ledger.
type Donation struct {
	Id            string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CampaignId    string    `json:"campaign_id" gorm:"size:36;index;not null"`
	DonorId       string    `json:"donor_id" gorm:"size:36;index"`
	TransactionId string    `json:"transaction_id" gorm:"size:36;index"`
	Amount        float64   `json:"amount" gorm:"not null"`
	Currency      string    `json:"currency" gorm:"size:12"`
	Message       string    `json:"message"`
	Anonymous     bool      `json:"anonymous"`
	Status        string    `json:"status" gorm:"size:12;index"` // Status: pending, settled, failed
}
