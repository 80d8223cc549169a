package fundapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"fundlink/internal/stellar"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	// replaceAttempts bounds the compare-and-swap retry loop when two
	// callers race on the same record.
	replaceAttempts = 3

	DefaultExpireAfter = 5 * time.Minute
)

// LedgerClient is what the service needs from Horizon. *stellar.Client
// implements it.
type LedgerClient interface {
	CheckStatus(ctx context.Context, txHash string) (*stellar.LedgerStatus, error)
}

// TransactionService is the single entry point for creating, reconciling and
// listing ledger transactions. Rdb and Db are optional: without them the
// service skips websocket fanout and donation settlement.
type TransactionService struct {
	Store       TransactionStore
	Ledger      LedgerClient
	Rdb         *redis.Client
	Db          *gorm.DB
	ExpireAfter time.Duration
}

func NewTransactionService(store TransactionStore, ledger LedgerClient, rdb *redis.Client, db *gorm.DB) *TransactionService {
	return &TransactionService{
		Store:       store,
		Ledger:      ledger,
		Rdb:         rdb,
		Db:          db,
		ExpireAfter: DefaultExpireAfter,
	}
}

type CreateTxInput struct {
	Type          TxType   `json:"type"`
	TxHash        string   `json:"tx_hash"` // Optional: a donation is created before the wallet signs
	Amount        Amount   `json:"amount"`
	WalletAddress string   `json:"wallet_address"`
	SourceId      string   `json:"source_id"`
	SourceType    string   `json:"source_type"`
	CampaignId    string   `json:"campaign_id"`
	DonorId       string   `json:"donor_id"`
	Metadata      Metadata `json:"metadata"`
}

func ParseStatus(raw string) (TxStatus, bool) {
	switch s := TxStatus(raw); s {
	case StatusPending, StatusSubmitted, StatusConfirming, StatusConfirmed, StatusFailed, StatusExpired:
		return s, true
	}
	return "", false
}

// Create persists a new record in status pending with a single history
// entry. The hash, when given, must not be tracked already.
func (s *TransactionService) Create(ctx context.Context, input CreateTxInput) (*TransactionRecord, error) {
	if !input.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, input.Type)
	}
	if input.Type == TypePayment || input.Type == TypeDonation {
		if input.Amount.Value == "" {
			return nil, fmt.Errorf("%w: amount required for %s transactions", ErrValidation, input.Type)
		}
	}
	if input.TxHash != "" {
		if _, err := s.Store.FindByHash(ctx, input.TxHash); err == nil {
			return nil, fmt.Errorf("%w: tx_hash %s already tracked", ErrValidation, input.TxHash)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	now := time.Now().UTC()
	meta := input.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	rec := &TransactionRecord{
		Id:            uuid.NewString(),
		TxHash:        input.TxHash,
		Type:          input.Type,
		Status:        StatusPending,
		Amount:        input.Amount,
		WalletAddress: input.WalletAddress,
		SourceId:      input.SourceId,
		SourceType:    input.SourceType,
		CampaignId:    input.CampaignId,
		DonorId:       input.DonorId,
		Metadata:      meta,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastChecked:   now,
	}
	rec.StatusHistory = []StatusEntry{{
		TransactionId: rec.Id,
		Seq:           1,
		Status:        StatusPending,
		Timestamp:     now,
		Details:       "created",
	}}
	if err := s.Store.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CheckTransactionStatus reconciles one record against the ledger. Terminal
// records and no-op re-checks only bump LastChecked so repeated polling never
// grows the history.
func (s *TransactionService) CheckTransactionStatus(ctx context.Context, txHash string) (*TransactionRecord, error) {
	rec, err := s.Store.FindByHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return s.touch(ctx, rec)
	}
	ls, err := s.Ledger.CheckStatus(ctx, rec.TxHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	for attempt := 0; attempt < replaceAttempts; attempt++ {
		if rec.Status.IsTerminal() {
			// Lost the race to a terminal writer, nothing left to do.
			return s.touch(ctx, rec)
		}
		target, details := s.mapLedgerStatus(rec, ls)
		now := time.Now().UTC()
		if target == rec.Status && details == rec.LastEntry().Details {
			upd := rec.Clone()
			upd.LastChecked = now
			if err := s.Store.Replace(ctx, upd, rec.UpdatedAt); err != nil {
				if errors.Is(err, ErrConflict) {
					if rec, err = s.Store.FindByHash(ctx, txHash); err != nil {
						return nil, err
					}
					continue
				}
				return nil, err
			}
			return upd, nil
		}
		upd, err := ApplyTransition(rec, target, details)
		if err != nil {
			return nil, err
		}
		upd.LastChecked = now
		if err := s.Store.Replace(ctx, upd, rec.UpdatedAt); err != nil {
			if errors.Is(err, ErrConflict) {
				if rec, err = s.Store.FindByHash(ctx, txHash); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		s.afterTransition(ctx, upd)
		return upd, nil
	}
	return nil, fmt.Errorf("%w: gave up replacing %s after %d attempts", ErrStorage, rec.Id, replaceAttempts)
}

// UpdateTransactionStatus forces a status through the same policy, for admin
// overrides and webhooks. ref may be a tx hash or a record id: a donation
// that has not been signed yet has no hash. additional may carry "tx_hash"
// to attach the hash on submission; the rest is merged into metadata.
func (s *TransactionService) UpdateTransactionStatus(ctx context.Context, ref string, status TxStatus, details string, additional Metadata) (*TransactionRecord, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	rec, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < replaceAttempts; attempt++ {
		newHash := rec.TxHash
		if raw, ok := additional["tx_hash"].(string); ok && raw != "" {
			if rec.TxHash != "" && rec.TxHash != raw {
				return nil, fmt.Errorf("%w: tx_hash is immutable once set", ErrValidation)
			}
			if rec.TxHash == "" {
				if _, err := s.Store.FindByHash(ctx, raw); err == nil {
					return nil, fmt.Errorf("%w: tx_hash %s already tracked", ErrValidation, raw)
				} else if !errors.Is(err, ErrNotFound) {
					return nil, err
				}
				newHash = raw
			}
		}
		// A record may only leave pending towards the network once it
		// carries a hash. Abandon paths (failed, expired) are exempt.
		if rec.Status == StatusPending && newHash == "" &&
			status != StatusPending && status != StatusFailed && status != StatusExpired {
			return nil, fmt.Errorf("%w: tx_hash required to leave pending", ErrValidation)
		}
		upd, err := ApplyTransition(rec, status, details)
		if err != nil {
			return nil, err
		}
		upd.TxHash = newHash
		for k, v := range additional {
			if k == "tx_hash" {
				continue
			}
			upd.Metadata[k] = v
		}
		if err := s.Store.Replace(ctx, upd, rec.UpdatedAt); err != nil {
			if errors.Is(err, ErrConflict) {
				if rec, err = s.find(ctx, ref); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		s.afterTransition(ctx, upd)
		return upd, nil
	}
	return nil, fmt.Errorf("%w: gave up replacing %s after %d attempts", ErrStorage, rec.Id, replaceAttempts)
}

func (s *TransactionService) GetTransaction(ctx context.Context, ref string) (*TransactionRecord, error) {
	return s.find(ctx, ref)
}

func (s *TransactionService) TransactionsByStatus(ctx context.Context, status TxStatus, page, limit int) ([]TransactionRecord, int64, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	page, limit = normalizePage(page, limit)
	return s.Store.List(ctx, TxFilter{Status: status}, page, limit)
}

func (s *TransactionService) CampaignTransactions(ctx context.Context, campaignId string, page, limit int) ([]TransactionRecord, int64, error) {
	page, limit = normalizePage(page, limit)
	return s.Store.List(ctx, TxFilter{CampaignId: campaignId}, page, limit)
}

func (s *TransactionService) DonorTransactions(ctx context.Context, donorId string, page, limit int) ([]TransactionRecord, int64, error) {
	page, limit = normalizePage(page, limit)
	return s.Store.List(ctx, TxFilter{DonorId: donorId}, page, limit)
}

func (s *TransactionService) ListTransactions(ctx context.Context, filter TxFilter, page, limit int) ([]TransactionRecord, int64, error) {
	if filter.Status != "" {
		if _, ok := ParseStatus(string(filter.Status)); !ok {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
		}
	}
	page, limit = normalizePage(page, limit)
	return s.Store.List(ctx, filter, page, limit)
}

// ExpireStalePending moves hash-less pending records older than the expiry
// window to expired. Hashed records expire through the reconcile path
// instead. Returns how many records were expired.
func (s *TransactionService) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ExpireAfter)
	var stale []string
	for page := 1; ; page++ {
		recs, _, err := s.Store.List(ctx, TxFilter{Status: StatusPending}, page, MaxListLimit)
		if err != nil {
			return 0, err
		}
		for i := range recs {
			if recs[i].TxHash == "" && recs[i].CreatedAt.Before(cutoff) {
				stale = append(stale, recs[i].Id)
			}
		}
		if len(recs) < MaxListLimit {
			break
		}
	}
	expired := 0
	for _, id := range stale {
		if _, err := s.UpdateTransactionStatus(ctx, id, StatusExpired, "expired before submission", nil); err != nil {
			// A concurrent writer may have moved the record already.
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *TransactionService) find(ctx context.Context, ref string) (*TransactionRecord, error) {
	rec, err := s.Store.FindByHash(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.Store.FindById(ctx, ref)
}

// touch bumps LastChecked without touching status or history.
func (s *TransactionService) touch(ctx context.Context, rec *TransactionRecord) (*TransactionRecord, error) {
	for attempt := 0; attempt < replaceAttempts; attempt++ {
		upd := rec.Clone()
		upd.LastChecked = time.Now().UTC()
		err := s.Store.Replace(ctx, upd, rec.UpdatedAt)
		if err == nil {
			return upd, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		if rec, err = s.Store.FindById(ctx, rec.Id); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// mapLedgerStatus turns a Horizon answer into the status the record should
// hold now.
func (s *TransactionService) mapLedgerStatus(rec *TransactionRecord, ls *stellar.LedgerStatus) (TxStatus, string) {
	expireAfter := s.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = DefaultExpireAfter
	}
	switch {
	case !ls.Found:
		if time.Since(rec.CreatedAt) > expireAfter {
			return StatusExpired, "no ledger sighting within expiry window"
		}
		return StatusSubmitted, "not yet seen by network"
	case !ls.Finalized:
		return StatusConfirming, "seen by network, awaiting ledger close"
	case ls.Successful:
		return StatusConfirmed, fmt.Sprintf("confirmed in ledger %d", ls.Ledger)
	default:
		return StatusFailed, fmt.Sprintf("ledger result: %s", ls.ResultCode)
	}
}

type TxEvent struct {
	Target      string             `json:"target"` // Websocket message type: 'tx_status'
	Transaction *TransactionRecord `json:"transaction"`
}

// afterTransition fans the fresh record out to websocket subscribers and,
// for terminal donations, settles the donation and pings the finance chat.
func (s *TransactionService) afterTransition(ctx context.Context, rec *TransactionRecord) {
	if s.Rdb != nil {
		payload, err := json.Marshal(TxEvent{Target: "tx_status", Transaction: rec})
		if err == nil {
			ref := rec.TxHash
			if ref == "" {
				ref = rec.Id
			}
			s.Rdb.Publish(ctx, fmt.Sprintf("tx_ch@%s", ref), payload)
		}
	}
	if !rec.Status.IsTerminal() {
		return
	}
	if s.Db != nil && rec.SourceType == "donation" {
		if err := SettleDonation(s.Db, s.Rdb, rec); err != nil {
			fmt.Println("settle donation:", err)
		}
	}
	if err := notifyTransaction(rec); err != nil {
		fmt.Println("telegram notify:", err)
	}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return page, limit
}
