package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ListProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/products", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"uuid":"9b2f","id":"p-1","link":"https://shop.example/item/1.html","skuId":"123","price":129.9,"createdAt":"2024-01-02T03:04:05Z"},
			{"id":"p-2","link":"https://shop.example/item/2.html","price":"15.00"}
		]`)
	}))
	defer srv.Close()

	products, err := NewClient(srv.URL+"/", time.Second, nil).ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "p-1", products[0].ID)
	assert.Equal(t, "123", products[0].SkuID)
	assert.Equal(t, "129.9", products[0].Price.String())
	require.NotNil(t, products[0].CreatedAt)
	assert.Equal(t, 2024, products[0].CreatedAt.Year())
	assert.Empty(t, products[1].SkuID)
	assert.Equal(t, "15", products[1].Price.String())
}

func TestClient_ListProducts_LocalTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"id":"p-1","link":"https://shop.example/item/1.html","price":12990,
			 "createdAt":"2024-01-02T03:04:05.123456","updatedAt":"2024-03-04T05:06:07"}
		]`)
	}))
	defer srv.Close()

	products, err := NewClient(srv.URL, time.Second, nil).ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)

	require.NotNil(t, products[0].CreatedAt)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC), products[0].CreatedAt.Time)
	require.NotNil(t, products[0].UpdatedAt)
	assert.Equal(t, 7, products[0].UpdatedAt.Second())
}

func TestClient_ListProducts_BadTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"p-1","link":"x","price":1,"createdAt":"yesterday"}]`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).ListProducts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yesterday")
}

func TestProduct_PriceMajor(t *testing.T) {
	p := Product{Price: decimal.NewFromInt(19990)}
	assert.Equal(t, "199.9", p.PriceMajor().String())
	assert.True(t, Product{}.PriceMajor().IsZero())
}

func TestClient_ListProducts_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).ListProducts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_UpdatePrice(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/products", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second, nil).UpdatePrice(context.Background(), "p-1", "https://shop.example/item/1.html", 12990)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"id":    "p-1",
		"link":  "https://shop.example/item/1.html",
		"price": float64(12990),
	}, got)
}

func TestClient_UpdatePrice_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown product", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second, nil).UpdatePrice(context.Background(), "p-9", "x", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p-9")
	assert.Contains(t, err.Error(), "unknown product")
}
