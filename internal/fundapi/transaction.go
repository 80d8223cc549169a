package fundapi

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type TxStatus string

const (
	StatusPending    TxStatus = "pending"
	StatusSubmitted  TxStatus = "submitted"
	StatusConfirming TxStatus = "confirming"
	StatusConfirmed  TxStatus = "confirmed"
	StatusFailed     TxStatus = "failed"
	StatusExpired    TxStatus = "expired"
)

type TxType string

const (
	TypePayment          TxType = "payment"
	TypeAccountCreation  TxType = "account_creation"
	TypeEscrowSetup      TxType = "escrow_setup"
	TypeMilestoneRelease TxType = "milestone_release"
	TypeDonation         TxType = "donation"
	TypeOther            TxType = "other"
)

// IsTerminal reports whether no further transition may leave this status.
func (s TxStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

func (t TxType) Valid() bool {
	switch t {
	case TypePayment, TypeAccountCreation, TypeEscrowSetup, TypeMilestoneRelease, TypeDonation, TypeOther:
		return true
	}
	return false
}

type Amount struct {
	Value    string `json:"value"` // Decimal amount kept as string, Stellar style (7 dp)
	Currency string `json:"currency" gorm:"size:12"`
}

type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("unsupported metadata column type")
}

// StatusEntry is a single row of a transaction's append-only status trail.
// Seq starts at 1 and rows are never updated or reordered.
type StatusEntry struct {
	TransactionId string    `json:"-" gorm:"primaryKey;size:36;autoIncrement:false"`
	Seq           int       `json:"-" gorm:"primaryKey;autoIncrement:false"`
	Status        TxStatus  `json:"status" gorm:"size:20;not null"`
	Timestamp     time.Time `json:"timestamp"`
	Details       string    `json:"details"`
}

// TransactionRecord tracks one Stellar payment through its lifecycle.
// Status is always the status of the newest history entry.
type TransactionRecord struct {
	Id            string        `json:"id" gorm:"primaryKey;size:36"`
	TxHash        string        `json:"tx_hash" gorm:"size:64"` // Stellar transaction hash, may be empty while pending; unique when set (partial index)
	Type          TxType        `json:"type" gorm:"size:20;not null"`
	Status        TxStatus      `json:"status" gorm:"size:20;index"`
	Amount        Amount        `json:"amount" gorm:"embedded;embeddedPrefix:amount_"`
	WalletAddress string        `json:"wallet_address" gorm:"size:64"`
	SourceId      string        `json:"source_id" gorm:"size:36;index"` // Originating domain object, eg. donation id
	SourceType    string        `json:"source_type" gorm:"size:20"`
	CampaignId    string        `json:"campaign_id" gorm:"size:36;index"`
	DonorId       string        `json:"donor_id" gorm:"size:36;index"`
	Metadata      Metadata      `json:"metadata" gorm:"type:text"`
	StatusHistory []StatusEntry `json:"status_history" gorm:"foreignKey:TransactionId;references:Id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastChecked   time.Time     `json:"last_checked"`
}

// LastEntry returns the newest history entry. The history is never empty
// once a record exists.
func (r *TransactionRecord) LastEntry() StatusEntry {
	if len(r.StatusHistory) == 0 {
		return StatusEntry{}
	}
	return r.StatusHistory[len(r.StatusHistory)-1]
}

// Clone returns a deep copy so that a failed transition never leaks partial
// changes into the caller's record.
func (r *TransactionRecord) Clone() *TransactionRecord {
	cp := *r
	cp.StatusHistory = make([]StatusEntry, len(r.StatusHistory))
	copy(cp.StatusHistory, r.StatusHistory)
	cp.Metadata = make(Metadata, len(r.Metadata))
	for k, v := range r.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
