package stellar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func horizonStub(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestCheckStatusSuccessful(t *testing.T) {
	c := horizonStub(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/transactions/abc123") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"hash": "abc123",
			"successful": true,
			"ledger": 45678901,
			"created_at": "2026-09-01T10:00:00Z",
			"result_xdr": "AAAAAAAAAGQAAAAAAAAAAQAAAAAAAAABAAAAAAAAAAA="
		}`))
	})

	ls, err := c.CheckStatus(context.Background(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !ls.Found || !ls.Finalized || !ls.Successful {
		t.Fatalf("flags = %+v", ls)
	}
	if ls.Ledger != 45678901 {
		t.Fatalf("ledger = %d", ls.Ledger)
	}
	if ls.ResultCode != "" {
		t.Fatalf("result code on a successful tx: %q", ls.ResultCode)
	}
	if !ls.CloseTime.Equal(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("close time = %s", ls.CloseTime)
	}
}

func TestCheckStatusFailedWithResultCodes(t *testing.T) {
	c := horizonStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"hash": "badseq",
			"successful": false,
			"ledger": 45678902,
			"result_xdr": "AAAAAAAAAGT////7AAAAAA==",
			"extras": {
				"result_codes": {
					"transaction": "tx_bad_seq"
				}
			}
		}`))
	})

	ls, err := c.CheckStatus(context.Background(), "badseq")
	if err != nil {
		t.Fatal(err)
	}
	if !ls.Found || !ls.Finalized || ls.Successful {
		t.Fatalf("flags = %+v", ls)
	}
	if ls.ResultCode != "tx_bad_seq" {
		t.Fatalf("result code = %q", ls.ResultCode)
	}
}

func TestCheckStatusFailedFallsBackToXdr(t *testing.T) {
	c := horizonStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"hash": "noextras",
			"successful": false,
			"ledger": 45678903,
			"result_xdr": "AAAAAAAAAGT////7AAAAAA=="
		}`))
	})

	ls, err := c.CheckStatus(context.Background(), "noextras")
	if err != nil {
		t.Fatal(err)
	}
	if ls.ResultCode != "AAAAAAAAAGT////7AAAAAA==" {
		t.Fatalf("result code = %q", ls.ResultCode)
	}
}

func TestCheckStatusNotFound(t *testing.T) {
	c := horizonStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"type": "https://stellar.org/horizon-errors/not_found", "status": 404}`))
	})

	ls, err := c.CheckStatus(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if ls.Found {
		t.Fatal("unknown hash reported as found")
	}
}

func TestCheckStatusServerError(t *testing.T) {
	c := horizonStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := c.CheckStatus(context.Background(), "abc123"); err == nil {
		t.Fatal("expected an error for a 503")
	}
}

func TestCheckStatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	c := New(base)

	if _, err := c.CheckStatus(context.Background(), "abc123"); err == nil {
		t.Fatal("expected an error for a dead endpoint")
	}
}

func TestCheckStatusHonorsContext(t *testing.T) {
	started := make(chan struct{})
	c := horizonStub(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	if _, err := c.CheckStatus(ctx, "abc123"); err == nil {
		t.Fatal("expected an error after cancellation")
	}
}
