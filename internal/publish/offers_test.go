package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

func makeEvent(t *testing.T, kind model.ChangeKind, c model.Change) model.ChangeEvent {
	t.Helper()
	c.Kind = kind
	payload, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	return model.ChangeEvent{
		ID:         uuid.New(),
		SellerID:   "gamevault",
		ProductID:  c.ProductID,
		Kind:       kind,
		Payload:    payload,
		DetectedAt: time.Now(),
	}
}

func TestPublishNewCreatesOffer(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody createOfferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{"id": "off-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	ev := makeEvent(t, model.ChangeNew, model.Change{
		ProductID: "p-1",
		Observed:  &model.RawProduct{Title: "Gold Pack", Price: 12.5, Stock: 40},
	})

	if err := client.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/offers" {
		t.Errorf("request = %s %s, want POST /v1/offers", gotMethod, gotPath)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.ExternalID != "p-1" || gotBody.Title != "Gold Pack" || gotBody.Price != 12.5 {
		t.Errorf("body = %+v", gotBody)
	}
	if gotBody.Quantity == nil || *gotBody.Quantity != 40 {
		t.Errorf("quantity = %v, want 40", gotBody.Quantity)
	}
}

func TestPublishPriceChangePatchesOffer(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody updateOfferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	ev := makeEvent(t, model.ChangePriceChanged, model.Change{
		ProductID: "p-2",
		Observed:  &model.RawProduct{Title: "Gold Pack"},
		OldPrice:  10,
		NewPrice:  8,
	})

	if err := client.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/v1/offers/p-2" {
		t.Errorf("request = %s %s, want PATCH /v1/offers/p-2", gotMethod, gotPath)
	}
	if gotBody.Price == nil || *gotBody.Price != 8 {
		t.Errorf("price = %v, want 8", gotBody.Price)
	}
}

func TestPublishRemovedDeletesOffer(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	ev := makeEvent(t, model.ChangeRemoved, model.Change{
		ProductID: "p-3",
		Previous:  &model.ProductRecord{Title: "Rare Mount", Price: 99},
	})

	if err := client.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/offers/p-3" {
		t.Errorf("request = %s %s, want DELETE /v1/offers/p-3", gotMethod, gotPath)
	}
}

func TestPublishErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	ev := makeEvent(t, model.ChangeRemoved, model.Change{
		ProductID: "p-1",
		Previous:  &model.ProductRecord{Title: "X", Price: 1},
	})

	if err := client.Publish(context.Background(), ev); err == nil {
		t.Error("Publish() error = nil, want error")
	}
}
