package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fundlink/internal/fundapi"
)

// Store is the gorm-backed fundapi.TransactionStore. History rows live in
// their own table keyed (transaction_id, seq), so append-only order survives
// relational storage.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, rec *fundapi.TransactionRecord) error {
	res := s.db.WithContext(ctx).Create(rec)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: tx_hash %s already tracked", fundapi.ErrValidation, rec.TxHash)
		}
		return fmt.Errorf("%w: %v", fundapi.ErrStorage, res.Error)
	}
	return nil
}

func (s *Store) FindById(ctx context.Context, id string) (*fundapi.TransactionRecord, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) FindByHash(ctx context.Context, txHash string) (*fundapi.TransactionRecord, error) {
	if txHash == "" {
		return nil, fundapi.ErrNotFound
	}
	return s.findOne(ctx, "tx_hash = ?", txHash)
}

func (s *Store) findOne(ctx context.Context, query string, arg string) (*fundapi.TransactionRecord, error) {
	var rec fundapi.TransactionRecord
	res := s.db.WithContext(ctx).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Where(query, arg).
		First(&rec)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, fundapi.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", fundapi.ErrStorage, res.Error)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, filter fundapi.TxFilter, page, limit int) ([]fundapi.TransactionRecord, int64, error) {
	q := s.db.WithContext(ctx).Model(&fundapi.TransactionRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.CampaignId != "" {
		q = q.Where("campaign_id = ?", filter.CampaignId)
	}
	if filter.DonorId != "" {
		q = q.Where("donor_id = ?", filter.DonorId)
	}
	var total int64
	if res := q.Count(&total); res.Error != nil {
		return nil, 0, fmt.Errorf("%w: %v", fundapi.ErrStorage, res.Error)
	}
	var recs []fundapi.TransactionRecord
	res := q.
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&recs)
	if res.Error != nil {
		return nil, 0, fmt.Errorf("%w: %v", fundapi.ErrStorage, res.Error)
	}
	return recs, total, nil
}

// Replace writes the whole record under a row lock. The compare-and-swap on
// updated_at keeps two status-check callers from both committing conflicting
// transitions; history rows are only ever inserted, never rewritten.
func (s *Store) Replace(ctx context.Context, rec *fundapi.TransactionRecord, expectedUpdatedAt time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur fundapi.TransactionRecord
		res := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", rec.Id).
			First(&cur)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return fundapi.ErrNotFound
			}
			return res.Error
		}
		if !cur.UpdatedAt.Equal(expectedUpdatedAt) {
			return fundapi.ErrConflict
		}
		var existing int64
		if res := tx.Model(&fundapi.StatusEntry{}).
			Where("transaction_id = ?", rec.Id).
			Count(&existing); res.Error != nil {
			return res.Error
		}
		for i := range rec.StatusHistory {
			if int64(rec.StatusHistory[i].Seq) <= existing {
				continue
			}
			if res := tx.Create(&rec.StatusHistory[i]); res.Error != nil {
				return res.Error
			}
		}
		// UpdateColumns keeps the timestamps exactly as the service set
		// them; a gorm auto-touch would break the concurrency token.
		res = tx.Model(&fundapi.TransactionRecord{}).
			Where("id = ?", rec.Id).
			UpdateColumns(map[string]interface{}{
				"tx_hash":        rec.TxHash,
				"status":         rec.Status,
				"amount_value":   rec.Amount.Value,
				"amount_currency": rec.Amount.Currency,
				"wallet_address": rec.WalletAddress,
				"source_id":      rec.SourceId,
				"source_type":    rec.SourceType,
				"campaign_id":    rec.CampaignId,
				"donor_id":       rec.DonorId,
				"metadata":       rec.Metadata,
				"updated_at":     rec.UpdatedAt,
				"last_checked":   rec.LastChecked,
			})
		return res.Error
	})
	if err != nil {
		if errors.Is(err, fundapi.ErrConflict) || errors.Is(err, fundapi.ErrNotFound) {
			return err
		}
		// A racing hash attach trips the unique index, not the lookup.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: tx_hash %s already tracked", fundapi.ErrValidation, rec.TxHash)
		}
		return fmt.Errorf("%w: %v", fundapi.ErrStorage, err)
	}
	return nil
}
