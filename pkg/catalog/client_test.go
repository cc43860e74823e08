package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/darkwings/voicecart/pkg/core"
)

func TestClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/products" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":1,"title":"Margherita","ingredients":"tomato, mozzarella","sku":"P1","price":10,"mob_img":"/img/p1.webp"},
			{"id":2,"title":"Diavola","ingredients":"salami, chili","sku":"P2","price":12}
		]`))
	}))
	defer server.Close()

	products, err := NewClient(server.URL, nil).List(context.Background())
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("len(products) = %d, want 2", len(products))
	}
	if products[0].SKU != "P1" || products[0].Title != "Margherita" || products[0].Price != 10 {
		t.Errorf("products[0] = %+v", products[0])
	}
	if products[0].MobImg != "/img/p1.webp" {
		t.Errorf("MobImg = %q", products[0].MobImg)
	}
}

func TestClient_LookupBySKU(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/products/skus" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			SKUs []string `json:"skus"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if len(body.SKUs) != 2 || body.SKUs[0] != "P1" || body.SKUs[1] != "P9" {
			t.Errorf("skus = %v", body.SKUs)
		}
		// Only the known SKU comes back; lookups are best effort.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"title":"Margherita","ingredients":"tomato","sku":"P1","price":10}]`))
	}))
	defer server.Close()

	products, err := NewClient(server.URL, nil).LookupBySKU(context.Background(), []string{"P1", "P9"})
	if err != nil {
		t.Fatalf("LookupBySKU() = %v", err)
	}
	if len(products) != 1 || products[0].SKU != "P1" {
		t.Errorf("products = %+v", products)
	}
}

func TestClient_TrimsTrailingSlash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL+"/", nil).List(context.Background()); err != nil {
		t.Fatalf("List() = %v", err)
	}
}

func TestClient_CreateOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/orders" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Items []OrderItem `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if len(body.Items) != 1 || body.Items[0].SKU != "P1" || body.Items[0].Quantity != 2 {
			t.Errorf("items = %v", body.Items)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":7,"total":10,"currency":"eur","status":"recorded"}`))
	}))
	defer server.Close()

	confirmation, err := NewClient(server.URL, nil).CreateOrder(context.Background(), []OrderItem{{SKU: "P1", Quantity: 2}})
	if err != nil {
		t.Fatalf("CreateOrder() = %v", err)
	}
	if confirmation.OrderID != 7 || confirmation.Total != 10 {
		t.Errorf("confirmation = %+v", confirmation)
	}
}

func TestClient_CreateOrderRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"invalid_request_error","message":"unknown sku"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, nil).CreateOrder(context.Background(), []OrderItem{{SKU: "P9", Quantity: 1}}); err == nil {
		t.Fatal("CreateOrder() succeeded, want error")
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "catalog db unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil).LookupBySKU(context.Background(), []string{"P1"})
	if err == nil {
		t.Fatal("LookupBySKU() succeeded, want error")
	}
	if !core.IsType(err, core.ErrCatalog) {
		t.Errorf("error type = %v, want catalog", err)
	}
}
