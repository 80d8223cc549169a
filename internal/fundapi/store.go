package fundapi

import (
	"context"
	"time"
)

// TxFilter narrows List to the slices the API exposes. Zero values match
// everything.
type TxFilter struct {
	Status     TxStatus
	CampaignId string
	DonorId    string
}

// TransactionStore is the persistence seam of the transaction subsystem.
// Replace is a whole-record compare-and-swap keyed on the UpdatedAt the
// caller read; a stale token yields ErrConflict so the service can re-read
// and retry instead of losing an update.
type TransactionStore interface {
	Insert(ctx context.Context, rec *TransactionRecord) error
	FindById(ctx context.Context, id string) (*TransactionRecord, error)
	FindByHash(ctx context.Context, txHash string) (*TransactionRecord, error)
	List(ctx context.Context, filter TxFilter, page, limit int) ([]TransactionRecord, int64, error)
	Replace(ctx context.Context, rec *TransactionRecord, expectedUpdatedAt time.Time) error
}
