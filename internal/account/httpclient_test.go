package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testAccountServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/acc-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "acc-1", "balance": "1000.00", "currency": "TRY", "status": "ACTIVE",
		})
	})
	mux.HandleFunc("/v1/accounts/acc-missing", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "ACCOUNT_NOT_FOUND", "message": "no such account"})
	})
	mux.HandleFunc("/v1/accounts/acc-1/debit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var in mutationRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if in.ClientRef == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if in.Amount.GreaterThan(decimal.NewFromInt(1000)) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "INSUFFICIENT_FUNDS", "message": "balance too low"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"transaction_id": "D-" + in.ClientRef})
	})
	mux.HandleFunc("/v1/accounts/acc-frozen/credit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "ACCOUNT_INACTIVE", "message": "account frozen"})
	})
	mux.HandleFunc("/v1/accounts/acc-1/credit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	clk := &fixedClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	tokens := NewTokenSource("secret-1", "transferd", time.Hour, clk)
	return NewHTTPClient(baseURL, &http.Client{Timeout: 2 * time.Second}, tokens)
}

func TestHTTPClientLookup(t *testing.T) {
	srv := testAccountServer(t)
	c := testClient(t, srv.URL)

	acc, err := c.Lookup(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if acc.ID != "acc-1" || acc.Currency != "TRY" || !acc.Active() {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if !acc.Balance.Equal(decimal.RequireFromString("1000.00")) {
		t.Fatalf("balance = %s", acc.Balance)
	}
}

func TestHTTPClientLookupNotFound(t *testing.T) {
	srv := testAccountServer(t)
	c := testClient(t, srv.URL)

	_, err := c.Lookup(context.Background(), "acc-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHTTPClientDebit(t *testing.T) {
	srv := testAccountServer(t)
	c := testClient(t, srv.URL)

	txID, err := c.Debit(context.Background(), "acc-1", decimal.NewFromInt(100), "TXF-AAAAAAAAAAAA")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if txID != "D-TXF-AAAAAAAAAAAA" {
		t.Fatalf("tx id = %q", txID)
	}
}

func TestHTTPClientMapsBusinessErrors(t *testing.T) {
	srv := testAccountServer(t)
	c := testClient(t, srv.URL)

	_, err := c.Debit(context.Background(), "acc-1", decimal.NewFromInt(5000), "TXF-AAAAAAAAAAAA")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	_, err = c.Credit(context.Background(), "acc-frozen", decimal.NewFromInt(10), "TXF-AAAAAAAAAAAA")
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("err = %v, want ErrInactive", err)
	}
}

func TestHTTPClientMapsServerErrorsToUnavailable(t *testing.T) {
	srv := testAccountServer(t)
	c := testClient(t, srv.URL)

	_, err := c.Credit(context.Background(), "acc-1", decimal.NewFromInt(10), "TXF-AAAAAAAAAAAA")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPClientMapsTransportFailureToUnavailable(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1")

	_, err := c.Lookup(context.Background(), "acc-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
