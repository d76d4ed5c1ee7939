// internal/ingest/index.go
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/models"
)

// PropertyIndex maintains the per-tenant property search index. Each
// tenant gets its own index (<prefix>-<tenant-id>), so a search can
// never cross tenants.
type PropertyIndex struct {
	client *elasticsearch.Client
	prefix string
	logger logger.Logger
}

func NewPropertyIndex(client *elasticsearch.Client, prefix string, log logger.Logger) *PropertyIndex {
	return &PropertyIndex{
		client: client,
		prefix: prefix,
		logger: log.WithFields(map[string]interface{}{"component": "property-index"}),
	}
}

func (x *PropertyIndex) indexName(tenantID string) string {
	return x.prefix + "-" + strings.ToLower(tenantID)
}

// Index writes or replaces a property document.
func (x *PropertyIndex) Index(ctx context.Context, prop *models.Property) error {
	doc, err := json.Marshal(prop)
	if err != nil {
		return commonerrors.NewValidationError("encode property doc: " + err.Error())
	}

	req := esapi.IndexRequest{
		Index:      x.indexName(prop.TenantID),
		DocumentID: prop.ID,
		Body:       bytes.NewReader(doc),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return commonerrors.NewExternalServiceError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return commonerrors.NewExternalServiceError("elasticsearch",
			fmt.Errorf("index returned %s", res.Status()))
	}
	return nil
}

// Remove drops a property document, ignoring documents already gone.
func (x *PropertyIndex) Remove(ctx context.Context, tenantID, propertyID string) error {
	req := esapi.DeleteRequest{
		Index:      x.indexName(tenantID),
		DocumentID: propertyID,
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return commonerrors.NewExternalServiceError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return commonerrors.NewExternalServiceError("elasticsearch",
			fmt.Errorf("delete returned %s", res.Status()))
	}
	return nil
}

// Search runs a free-text query over the tenant's index and returns
// matching property IDs, best first.
func (x *PropertyIndex) Search(ctx context.Context, tenantID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "neighborhood^2", "city", "address", "propertyType", "amenities"},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, commonerrors.NewValidationError("encode search query: " + err.Error())
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.indexName(tenantID)),
		x.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, commonerrors.NewExternalServiceError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == 404 {
			return nil, nil
		}
		return nil, commonerrors.NewExternalServiceError("elasticsearch",
			fmt.Errorf("search returned %s", res.Status()))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, commonerrors.NewExternalServiceError("elasticsearch", err)
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}
