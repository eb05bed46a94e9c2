package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/calls"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"

	"github.com/shopspring/decimal"
)

func TestUpsertActiveCall(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody calls.ActiveCallSnapshot

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	snap := calls.ActiveCallSnapshot{
		CallID:        "c1",
		CallingNumber: "1001",
		Status:        "answered",
		CurrentCost:   decimal.RequireFromString("0.42"),
	}
	if err := c.UpsertActiveCall(context.Background(), snap); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/active-calls" {
		t.Fatalf("%s %s", gotMethod, gotPath)
	}
	if gotBody.CallID != "c1" || !gotBody.CurrentCost.Equal(snap.CurrentCost) {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestRemoveActiveCallTolerates404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	if err := c.RemoveActiveCall(context.Background(), "gone"); err != nil {
		t.Fatalf("expected 404 tolerated, got %v", err)
	}
}

func TestRemoveActiveCallEscapesID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	if err := c.RemoveActiveCall(context.Background(), "a/b c"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if gotPath != "/active-calls/a%2Fb%20c" {
		t.Fatalf("path = %s", gotPath)
	}
}

func TestCreateCDRReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	err := c.CreateCDR(context.Background(), ledger.CDR{CallID: "c1"})
	if err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestClientTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, nil)
	if err := c.RemoveActiveCall(context.Background(), "slow"); err == nil {
		t.Fatalf("expected timeout error")
	}
}
