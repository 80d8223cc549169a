package fundapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundlink/internal/stellar"
)

// memStore is a map-backed TransactionStore with the same compare-and-swap
// contract as the postgres implementation.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*TransactionRecord
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]*TransactionRecord{}}
}

func (m *memStore) Insert(ctx context.Context, rec *TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.Id]; ok {
		return ErrStorage
	}
	if err := m.hashTaken(rec); err != nil {
		return err
	}
	m.recs[rec.Id] = rec.Clone()
	return nil
}

// hashTaken mirrors the unique index on tx_hash: set hashes may not collide,
// empty ones may. Caller holds the mutex.
func (m *memStore) hashTaken(rec *TransactionRecord) error {
	if rec.TxHash == "" {
		return nil
	}
	for _, other := range m.recs {
		if other.Id != rec.Id && other.TxHash == rec.TxHash {
			return fmt.Errorf("%w: tx_hash %s already tracked", ErrValidation, rec.TxHash)
		}
	}
	return nil
}

func (m *memStore) FindById(ctx context.Context, id string) (*TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memStore) FindByHash(ctx context.Context, txHash string) (*TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txHash == "" {
		return nil, ErrNotFound
	}
	for _, rec := range m.recs {
		if rec.TxHash == txHash {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) List(ctx context.Context, filter TxFilter, page, limit int) ([]TransactionRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []TransactionRecord
	for _, rec := range m.recs {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.CampaignId != "" && rec.CampaignId != filter.CampaignId {
			continue
		}
		if filter.DonorId != "" && rec.DonorId != filter.DonorId {
			continue
		}
		matched = append(matched, *rec.Clone())
	}
	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *memStore) Replace(ctx context.Context, rec *TransactionRecord, expectedUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[rec.Id]
	if !ok {
		return ErrNotFound
	}
	if !cur.UpdatedAt.Equal(expectedUpdatedAt) {
		return ErrConflict
	}
	if len(rec.StatusHistory) < len(cur.StatusHistory) {
		return ErrStorage
	}
	if err := m.hashTaken(rec); err != nil {
		return err
	}
	m.recs[rec.Id] = rec.Clone()
	return nil
}

// backdate shifts a stored record's CreatedAt, for expiry scenarios.
func (m *memStore) backdate(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[id].CreatedAt = m.recs[id].CreatedAt.Add(-d)
}

type fakeLedger struct {
	mu     sync.Mutex
	status stellar.LedgerStatus
	err    error
	calls  int
}

func (f *fakeLedger) CheckStatus(ctx context.Context, txHash string) (*stellar.LedgerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ls := f.status
	return &ls, nil
}

func newTestService() (*TransactionService, *memStore, *fakeLedger) {
	store := newMemStore()
	ledger := &fakeLedger{}
	svc := NewTransactionService(store, ledger, nil, nil)
	return svc, store, ledger
}

func TestCreateRoundTrip(t *testing.T) {
	svc, _, _ := newTestService()
	rec, err := svc.Create(context.Background(), CreateTxInput{
		Type:   TypeDonation,
		TxHash: "abc123",
		Amount: Amount{Value: "50", Currency: "XLM"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("new record status = %s", rec.Status)
	}
	if len(rec.StatusHistory) != 1 || rec.LastEntry().Details != "created" {
		t.Fatalf("new record history = %+v", rec.StatusHistory)
	}
	byHash, err := svc.GetTransaction(context.Background(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	byId, err := svc.GetTransaction(context.Background(), rec.Id)
	if err != nil {
		t.Fatal(err)
	}
	if byHash.Id != rec.Id || byId.Id != rec.Id {
		t.Fatal("lookups disagree about the record")
	}
	if len(byHash.StatusHistory) != 1 {
		t.Fatalf("history after round trip = %d entries", len(byHash.StatusHistory))
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Create(context.Background(), CreateTxInput{Type: "teleport"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad type: want ErrValidation, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateTxInput{Type: TypeDonation}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing amount: want ErrValidation, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateTxInput{
		Type: TypeDonation, TxHash: "dup", Amount: Amount{Value: "1", Currency: "XLM"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(context.Background(), CreateTxInput{
		Type: TypeDonation, TxHash: "dup", Amount: Amount{Value: "2", Currency: "XLM"},
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("duplicate hash: want ErrValidation, got %v", err)
	}
}

// Concurrent creates with the same hash must not all pass the create-time
// lookup; the store's uniqueness check is what decides.
func TestConcurrentCreateSameHash(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "dup"})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrValidation):
		default:
			t.Fatalf("unexpected create outcome: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("creates succeeded = %d, want exactly 1", created)
	}
	holders := 0
	for _, rec := range store.recs {
		if rec.TxHash == "dup" {
			holders++
		}
	}
	if holders != 1 {
		t.Fatalf("%d records share the hash", holders)
	}
}

func TestConcurrentHashAttach(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	a, err := svc.Create(ctx, CreateTxInput{Type: TypeOther})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Create(ctx, CreateTxInput{Type: TypeOther})
	if err != nil {
		t.Fatal(err)
	}

	ids := []string{a.Id, b.Id}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.UpdateTransactionStatus(ctx, ids[i], StatusSubmitted, "signed", Metadata{"tx_hash": "race-hash"})
		}(i)
	}
	wg.Wait()

	attached := 0
	for _, err := range errs {
		switch {
		case err == nil:
			attached++
		case errors.Is(err, ErrValidation):
		default:
			t.Fatalf("unexpected attach outcome: %v", err)
		}
	}
	if attached != 1 {
		t.Fatalf("attaches succeeded = %d, want exactly 1", attached)
	}
	holders := 0
	for _, rec := range store.recs {
		if rec.TxHash == "race-hash" {
			holders++
		}
	}
	if holders != 1 {
		t.Fatalf("%d records share the hash", holders)
	}
}

func TestLeavePendingRequiresHash(t *testing.T) {
	svc, _, _ := newTestService()
	rec, err := svc.Create(context.Background(), CreateTxInput{Type: TypeOther})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateTransactionStatus(context.Background(), rec.Id, StatusSubmitted, "sent", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	// Abandoning a hash-less record is fine
	if _, err := svc.UpdateTransactionStatus(context.Background(), rec.Id, StatusFailed, "wallet declined", nil); err != nil {
		t.Fatal(err)
	}
}

func TestDonationLifecycle(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()
	rec, err := svc.Create(ctx, CreateTxInput{
		Type:       TypeDonation,
		Amount:     Amount{Value: "25", Currency: "XLM"},
		SourceId:   "donation-1",
		SourceType: "donation",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.TxHash != "" || rec.Status != StatusPending || len(rec.StatusHistory) != 1 {
		t.Fatalf("fresh donation record: %+v", rec)
	}

	rec, err = svc.UpdateTransactionStatus(ctx, rec.Id, StatusSubmitted, "wallet signed", Metadata{"tx_hash": "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.TxHash != "abc123" || rec.Status != StatusSubmitted || len(rec.StatusHistory) != 2 {
		t.Fatalf("after submit: %+v", rec)
	}

	ledger.status = stellar.LedgerStatus{Found: true, Finalized: true, Successful: true, Ledger: 1234}
	rec, err = svc.CheckTransactionStatus(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusConfirmed || len(rec.StatusHistory) != 3 {
		t.Fatalf("after confirm: status=%s history=%d", rec.Status, len(rec.StatusHistory))
	}

	// Terminal: further checks only bump LastChecked
	prevChecked := rec.LastChecked
	time.Sleep(5 * time.Millisecond)
	again, err := svc.CheckTransactionStatus(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != StatusConfirmed || len(again.StatusHistory) != 3 {
		t.Fatalf("terminal record changed on re-check: %+v", again)
	}
	if !again.LastChecked.After(prevChecked) {
		t.Fatal("LastChecked was not refreshed")
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "abc123"}); err != nil {
		t.Fatal(err)
	}
	ledger.status = stellar.LedgerStatus{Found: false}

	first, err := svc.CheckTransactionStatus(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != StatusSubmitted || len(first.StatusHistory) != 2 {
		t.Fatalf("first check: status=%s history=%d", first.Status, len(first.StatusHistory))
	}
	second, err := svc.CheckTransactionStatus(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != first.Status {
		t.Fatalf("second check changed status to %s", second.Status)
	}
	if len(second.StatusHistory) != 2 {
		t.Fatalf("no-op re-check appended history: %d entries", len(second.StatusHistory))
	}
}

// A ledger answer routinely arrives already finalized: ledgers close in
// seconds while the sweep runs per minute. One check must carry the record
// all the way to confirmed, whatever non-terminal status it is in.
func TestCheckConfirmsAlreadyFinalized(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()
	ledger.status = stellar.LedgerStatus{Found: true, Finalized: true, Successful: true, Ledger: 777}

	for _, from := range []TxStatus{StatusPending, StatusSubmitted, StatusConfirming} {
		hash := "final-" + string(from)
		rec, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: hash})
		if err != nil {
			t.Fatal(err)
		}
		history := 1
		if from != StatusPending {
			if rec, err = svc.UpdateTransactionStatus(ctx, hash, from, "advanced", nil); err != nil {
				t.Fatal(err)
			}
			history = 2
		}
		rec, err = svc.CheckTransactionStatus(ctx, hash)
		if err != nil {
			t.Fatalf("check from %s: %v", from, err)
		}
		if rec.Status != StatusConfirmed {
			t.Fatalf("check from %s: status = %s", from, rec.Status)
		}
		if len(rec.StatusHistory) != history+1 {
			t.Fatalf("check from %s: history = %d, want %d", from, len(rec.StatusHistory), history+1)
		}
	}
}

func TestCheckMovesPendingToConfirming(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "inflight"}); err != nil {
		t.Fatal(err)
	}
	ledger.status = stellar.LedgerStatus{Found: true, Finalized: false}
	rec, err := svc.CheckTransactionStatus(ctx, "inflight")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusConfirming || len(rec.StatusHistory) != 2 {
		t.Fatalf("after check: status=%s history=%d", rec.Status, len(rec.StatusHistory))
	}
}

func TestCheckMapsLedgerFailure(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "badseq"}); err != nil {
		t.Fatal(err)
	}
	ledger.status = stellar.LedgerStatus{Found: true, Finalized: true, Successful: false, ResultCode: "tx_bad_seq"}
	rec, err := svc.CheckTransactionStatus(ctx, "badseq")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.LastEntry().Details != "ledger result: tx_bad_seq" {
		t.Fatalf("details = %q", rec.LastEntry().Details)
	}
}

func TestCheckSurfacesNetworkError(t *testing.T) {
	svc, store, ledger := newTestService()
	ctx := context.Background()
	rec, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	ledger.err = errors.New("connection refused")
	if _, err := svc.CheckTransactionStatus(ctx, "abc123"); !errors.Is(err, ErrNetwork) {
		t.Fatalf("want ErrNetwork, got %v", err)
	}
	// Nothing persisted on the failed check
	stored, err := store.FindById(ctx, rec.Id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusPending || len(stored.StatusHistory) != 1 {
		t.Fatalf("failed check persisted state: %+v", stored)
	}
}

func TestCheckExpiresSilentTransaction(t *testing.T) {
	svc, store, ledger := newTestService()
	ctx := context.Background()
	rec, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	store.backdate(rec.Id, 10*time.Minute)
	ledger.status = stellar.LedgerStatus{Found: false}

	rec, err = svc.CheckTransactionStatus(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusExpired {
		t.Fatalf("status = %s", rec.Status)
	}
	// Expired is terminal: nothing moves it back
	if _, err := svc.UpdateTransactionStatus(ctx, "ghost", StatusConfirmed, "resurrect", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestExpireStalePending(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	stale, err := svc.Create(ctx, CreateTxInput{Type: TypeOther})
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.Create(ctx, CreateTxInput{Type: TypeOther})
	if err != nil {
		t.Fatal(err)
	}
	store.backdate(stale.Id, time.Hour)

	n, err := svc.ExpireStalePending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired %d records, want 1", n)
	}
	got, _ := store.FindById(ctx, stale.Id)
	if got.Status != StatusExpired || len(got.StatusHistory) != 2 {
		t.Fatalf("stale record: %+v", got)
	}
	got, _ = store.FindById(ctx, fresh.Id)
	if got.Status != StatusPending {
		t.Fatalf("fresh record was expired: %+v", got)
	}
}

func TestTerminalOverrideRejected(t *testing.T) {
	svc, _, ledger := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "abc123"}); err != nil {
		t.Fatal(err)
	}
	ledger.status = stellar.LedgerStatus{Found: true, Finalized: true, Successful: true, Ledger: 7}
	if _, err := svc.UpdateTransactionStatus(ctx, "abc123", StatusSubmitted, "sent", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CheckTransactionStatus(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	for _, target := range []TxStatus{StatusPending, StatusSubmitted, StatusConfirming, StatusFailed} {
		if _, err := svc.UpdateTransactionStatus(ctx, "abc123", target, "webhook replay", nil); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("confirmed -> %s: want ErrInvalidTransition, got %v", target, err)
		}
	}
}

func TestConcurrentUpdatesLoseCleanly(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	rec, err := svc.Create(ctx, CreateTxInput{Type: TypeOther, TxHash: "abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateTransactionStatus(ctx, "abc123", StatusSubmitted, "sent", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateTransactionStatus(ctx, "abc123", StatusConfirming, "seen", nil); err != nil {
		t.Fatal(err)
	}

	targets := []TxStatus{StatusConfirmed, StatusFailed}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.UpdateTransactionStatus(ctx, "abc123", targets[i], "race", nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Fatalf("unexpected race outcome: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	got, _ := store.FindById(ctx, rec.Id)
	if !got.Status.IsTerminal() {
		t.Fatalf("record not terminal after race: %s", got.Status)
	}
	// created + submitted + confirming + exactly one terminal transition
	if len(got.StatusHistory) != 4 {
		t.Fatalf("history length = %d, want 4", len(got.StatusHistory))
	}
	if got.LastEntry().Status != got.Status {
		t.Fatal("status and history tip diverged")
	}
}

func TestMetadataMerge(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	rec, err := svc.Create(ctx, CreateTxInput{
		Type:     TypeOther,
		TxHash:   "abc123",
		Metadata: Metadata{"campaign_slug": "save-the-docs"},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec, err = svc.UpdateTransactionStatus(ctx, "abc123", StatusSubmitted, "sent", Metadata{"operator": "webhook"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Metadata["campaign_slug"] != "save-the-docs" || rec.Metadata["operator"] != "webhook" {
		t.Fatalf("metadata = %+v", rec.Metadata)
	}
}
