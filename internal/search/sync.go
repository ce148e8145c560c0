// Package search maintains the product index in the hosted search service.
// It runs out-of-band and is never on the request path.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"brewstore/internal/catalog"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexNotFound = "index_not_found_exception"

type Result struct {
	Index        string `json:"index"`
	Acknowledged bool   `json:"acknowledged"`
	// NotFound is the benign outcome of deleting an index that does not exist.
	NotFound bool `json:"not_found"`
}

type RebuildResult struct {
	Index     string `json:"index"`
	Indexed   int    `json:"indexed"`
	Refreshed bool   `json:"refreshed"`
}

type Syncer struct {
	es     *elasticsearch.Client
	logger *slog.Logger
}

func NewClient(url, apiKey string) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{Addresses: []string{url}}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return es, nil
}

func NewSyncer(es *elasticsearch.Client, logger *slog.Logger) *Syncer {
	return &Syncer{es: es, logger: logger}
}

func (s *Syncer) DeleteIndex(ctx context.Context, name string) (Result, error) {
	res, err := s.es.Indices.Delete([]string{name}, s.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return Result{}, fmt.Errorf("delete index %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		apiErr := decodeError(res)
		if res.StatusCode == http.StatusNotFound || apiErr.Type == indexNotFound {
			s.logger.Warn("search index does not exist", "index", name)
			return Result{Index: name, NotFound: true}, nil
		}
		return Result{}, fmt.Errorf("delete index %s: %w", name, apiErr)
	}

	var ack struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := json.NewDecoder(res.Body).Decode(&ack); err != nil {
		return Result{}, fmt.Errorf("decode delete response: %w", err)
	}
	if !ack.Acknowledged {
		return Result{}, fmt.Errorf("delete index %s: not acknowledged", name)
	}
	return Result{Index: name, Acknowledged: true}, nil
}

const productMapping = `{
  "mappings": {
    "properties": {
      "name":  {"type": "text"},
      "price": {"type": "long"},
      "image": {"type": "keyword", "index": false},
      "stock": {"type": "integer"}
    }
  }
}`

// Rebuild recreates the index from products. With wait set it refreshes the
// index so the documents are searchable when it returns.
func (s *Syncer) Rebuild(ctx context.Context, name string, products []catalog.Product, wait bool) (RebuildResult, error) {
	if _, err := s.DeleteIndex(ctx, name); err != nil {
		return RebuildResult{}, err
	}

	res, err := s.es.Indices.Create(name,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(strings.NewReader(productMapping)),
	)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("create index %s: %w", name, err)
	}
	if err := checkResponse(res); err != nil {
		return RebuildResult{}, fmt.Errorf("create index %s: %w", name, err)
	}

	result := RebuildResult{Index: name}
	for _, p := range products {
		doc, err := json.Marshal(p)
		if err != nil {
			return result, fmt.Errorf("marshal product %s: %w", p.ID, err)
		}
		res, err := s.es.Index(name, bytes.NewReader(doc),
			s.es.Index.WithDocumentID(p.ID),
			s.es.Index.WithContext(ctx),
		)
		if err != nil {
			return result, fmt.Errorf("index product %s: %w", p.ID, err)
		}
		if err := checkResponse(res); err != nil {
			return result, fmt.Errorf("index product %s: %w", p.ID, err)
		}
		result.Indexed++
	}

	if wait {
		res, err := s.es.Indices.Refresh(
			s.es.Indices.Refresh.WithIndex(name),
			s.es.Indices.Refresh.WithContext(ctx),
		)
		if err != nil {
			return result, fmt.Errorf("refresh index %s: %w", name, err)
		}
		if err := checkResponse(res); err != nil {
			return result, fmt.Errorf("refresh index %s: %w", name, err)
		}
		result.Refreshed = true
	}

	s.logger.Info("search index rebuilt", "index", name, "documents", result.Indexed)
	return result, nil
}

type APIError struct {
	Status int
	Type   string
	Reason string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("search service returned status %d", e.Status)
	}
	return fmt.Sprintf("search service returned status %d: %s: %s", e.Status, e.Type, e.Reason)
}

func checkResponse(res *esapi.Response) error {
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(res)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func decodeError(res *esapi.Response) *APIError {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	_ = json.NewDecoder(res.Body).Decode(&body)
	return &APIError{Status: res.StatusCode, Type: body.Error.Type, Reason: body.Error.Reason}
}
