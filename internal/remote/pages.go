package remote

import (
	"context"
	"fmt"
	"net/http"
)

// createPageRequest is the body of POST /v1/pages.
type createPageRequest struct {
	Parent     Parent           `json:"parent"`
	Properties map[string]Value `json:"properties"`
}

// updatePageRequest is the body of PATCH /v1/pages/{id}.
type updatePageRequest struct {
	Properties map[string]Value `json:"properties,omitempty"`
	Archived   *bool            `json:"archived,omitempty"`
}

// CreatePage creates a row in the given data source.
func (c *Client) CreatePage(ctx context.Context, dataSourceID string, properties map[string]Value) (*Page, error) {
	req := createPageRequest{
		Parent:     Parent{Type: "data_source_id", DataSourceID: dataSourceID},
		Properties: properties,
	}

	var page Page
	if err := c.do(ctx, http.MethodPost, "/v1/pages", req, &page); err != nil {
		return nil, fmt.Errorf("creating page in %s: %w", dataSourceID, err)
	}

	return &page, nil
}

// UpdatePage patches a row's properties.
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]Value) (*Page, error) {
	req := updatePageRequest{Properties: properties}

	var page Page
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, req, &page); err != nil {
		return nil, fmt.Errorf("updating page %s: %w", pageID, err)
	}

	return &page, nil
}

// GetPage fetches a single row.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+pageID, nil, &page); err != nil {
		return nil, fmt.Errorf("fetching page %s: %w", pageID, err)
	}

	return &page, nil
}
