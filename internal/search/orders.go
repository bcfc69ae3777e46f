// Package search wraps the optional Meilisearch order index. Every operation
// is best effort: a nil client or a failed call degrades to the primary store.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

// OrderDoc is the denormalized order document the index holds.
type OrderDoc struct {
	ID              int64    `json:"id"`
	BillCode        string   `json:"billCode"`
	OrderCode       string   `json:"orderId"`
	ReceiverName    string   `json:"receiverName"`
	ReceiverPhone   string   `json:"receiverPhone"`
	ShippingAddress string   `json:"shippingAddress"`
	Status          string   `json:"status"`
	CustomerID      int64    `json:"customerId"`
	CreatedAt       string   `json:"createdAt"`
	ItemNames       []string `json:"itemNames"`
}

type Filters struct {
	Status     string
	CustomerID *int64
}

type Result struct {
	IDs   []int64
	Total int64
}

type OrderIndex struct {
	client *meilisearch.Client
	index  string
}

// NewOrderIndex returns a disabled index when host is empty.
func NewOrderIndex(host, apiKey, indexName string) *OrderIndex {
	if host == "" {
		log.Info().Msg("search: Meilisearch host not configured, order search disabled")
		return &OrderIndex{}
	}
	client := meilisearch.NewClient(meilisearch.ClientConfig{Host: host, APIKey: apiKey})
	idx := &OrderIndex{client: client, index: indexName}
	if err := idx.configure(); err != nil {
		log.Warn().Err(err).Msg("search: failed to configure Meilisearch index")
	}
	return idx
}

func (s *OrderIndex) Enabled() bool { return s != nil && s.client != nil }

func (s *OrderIndex) configure() error {
	if _, err := s.client.GetIndex(s.index); err != nil {
		if _, err := s.client.CreateIndex(&meilisearch.IndexConfig{Uid: s.index, PrimaryKey: "id"}); err != nil {
			return fmt.Errorf("search: create index: %w", err)
		}
	}
	_, err := s.client.Index(s.index).UpdateSettings(&meilisearch.Settings{
		SearchableAttributes: []string{
			"receiverName", "receiverPhone", "shippingAddress", "billCode", "orderId", "itemNames",
		},
		FilterableAttributes: []string{"status", "customerId"},
		SortableAttributes:   []string{"createdAt"},
	})
	return err
}

// IndexOrders pushes docs to the index. Failures are logged and swallowed.
func (s *OrderIndex) IndexOrders(ctx context.Context, docs ...OrderDoc) error {
	if !s.Enabled() || len(docs) == 0 {
		return nil
	}
	if _, err := s.client.Index(s.index).AddDocuments(docs); err != nil {
		return fmt.Errorf("search: failed to index orders: %w", err)
	}
	return nil
}

// SearchOrders queries the index. A nil Result (no error) means the index
// could not serve the query and the caller should hit the primary store.
func (s *OrderIndex) SearchOrders(ctx context.Context, query string, page, limit int, f Filters) (*Result, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if page < 1 {
		page = 1
	}

	var filters []string
	if f.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", f.Status))
	}
	if f.CustomerID != nil {
		filters = append(filters, fmt.Sprintf("customerId = %d", *f.CustomerID))
	}

	req := &meilisearch.SearchRequest{
		Limit:  int64(limit),
		Offset: int64(page-1) * int64(limit),
	}
	if len(filters) > 0 {
		req.Filter = strings.Join(filters, " AND ")
	}

	resp, err := s.client.Index(s.index).Search(query, req)
	if err != nil {
		log.Warn().Err(err).Msg("search: Meilisearch query failed, falling back to DB")
		return nil, nil
	}

	ids := make([]int64, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		doc, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		switch id := doc["id"].(type) {
		case float64:
			ids = append(ids, int64(id))
		case json.Number:
			if n, err := id.Int64(); err == nil {
				ids = append(ids, n)
			}
		}
	}
	return &Result{IDs: ids, Total: resp.EstimatedTotalHits}, nil
}
