package remote

import (
	"context"
	"fmt"
	"net/http"
)

// searchRequest is the body of POST /v1/search.
type searchRequest struct {
	Query       string        `json:"query,omitempty"`
	Filter      *searchFilter `json:"filter,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
}

type searchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// page is the generic paginated list envelope.
type listEnvelope[T any] struct {
	Results    []T    `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

const searchPageSize = 100

// SearchDatabases enumerates every database visible to the caller,
// following pagination cursors.
func (c *Client) SearchDatabases(ctx context.Context) ([]Database, error) {
	var all []Database
	cursor := ""

	for {
		req := searchRequest{
			Filter:      &searchFilter{Property: "object", Value: "database"},
			StartCursor: cursor,
			PageSize:    searchPageSize,
		}

		var resp listEnvelope[Database]
		if err := c.do(ctx, http.MethodPost, "/v1/search", req, &resp); err != nil {
			return nil, fmt.Errorf("searching databases: %w", err)
		}

		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}

		cursor = resp.NextCursor
	}

	return all, nil
}

// GetDatabase fetches a single database, including its data source list.
func (c *Client) GetDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	if err := c.do(ctx, http.MethodGet, "/v1/databases/"+databaseID, nil, &db); err != nil {
		return nil, fmt.Errorf("fetching database %s: %w", databaseID, err)
	}

	return &db, nil
}

// ResolveDataSource resolves a database id to its data-source id, the
// addressing model required for all mutations. Fails when the database
// exposes no data source.
func (c *Client) ResolveDataSource(ctx context.Context, databaseID string) (string, error) {
	db, err := c.GetDatabase(ctx, databaseID)
	if err != nil {
		return "", err
	}

	if len(db.DataSources) == 0 {
		return "", fmt.Errorf("remote: database %s has no data source", databaseID)
	}

	return db.DataSources[0].ID, nil
}
