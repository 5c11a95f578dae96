package remote

import (
	"context"
	"fmt"
	"net/http"
	"sort"
)

// queryRequest is the body of POST /v1/data_sources/{id}/query.
type queryRequest struct {
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

const queryPageSize = 100

// QueryAllPages fetches every row of a data source, following pagination
// cursors, and returns them sorted by page id for deterministic processing.
// The cursor lives only for the duration of this call; callers re-query
// from scratch on a new run.
func (c *Client) QueryAllPages(ctx context.Context, dataSourceID string) ([]Page, error) {
	var all []Page
	cursor := ""

	for {
		req := queryRequest{StartCursor: cursor, PageSize: queryPageSize}

		var resp listEnvelope[Page]
		if err := c.do(ctx, http.MethodPost, "/v1/data_sources/"+dataSourceID+"/query", req, &resp); err != nil {
			return nil, fmt.Errorf("querying data source %s: %w", dataSourceID, err)
		}

		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}

		cursor = resp.NextCursor
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	return all, nil
}
