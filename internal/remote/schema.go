package remote

import (
	"context"
	"fmt"
	"net/http"
)

// GetDataSource fetches a data source's property schema.
func (c *Client) GetDataSource(ctx context.Context, dataSourceID string) (*DataSource, error) {
	var ds DataSource
	if err := c.do(ctx, http.MethodGet, "/v1/data_sources/"+dataSourceID, nil, &ds); err != nil {
		return nil, fmt.Errorf("fetching data source %s: %w", dataSourceID, err)
	}

	return &ds, nil
}

// updateDataSourceRequest is the body of PATCH /v1/data_sources/{id}.
// A nil property value deletes that property.
type updateDataSourceRequest struct {
	Properties map[string]*Property `json:"properties"`
}

// CreateProperty adds a property to a data source's schema.
func (c *Client) CreateProperty(ctx context.Context, dataSourceID, name string, prop Property) error {
	req := updateDataSourceRequest{Properties: map[string]*Property{name: &prop}}

	if err := c.do(ctx, http.MethodPatch, "/v1/data_sources/"+dataSourceID, req, nil); err != nil {
		return fmt.Errorf("creating property %q on %s: %w", name, dataSourceID, err)
	}

	return nil
}

// DeleteProperty removes a property from a data source's schema.
func (c *Client) DeleteProperty(ctx context.Context, dataSourceID, name string) error {
	req := updateDataSourceRequest{Properties: map[string]*Property{name: nil}}

	if err := c.do(ctx, http.MethodPatch, "/v1/data_sources/"+dataSourceID, req, nil); err != nil {
		return fmt.Errorf("deleting property %q on %s: %w", name, dataSourceID, err)
	}

	return nil
}

// UpdateSelectOptions replaces the option set of a select, multi-select, or
// status property. Callers pass the union of both sides; options are never
// removed by this engine.
func (c *Client) UpdateSelectOptions(ctx context.Context, dataSourceID, name, propType string, options []string) error {
	set := &OptionSet{Options: make([]Option, len(options))}
	for i, o := range options {
		set.Options[i] = Option{Name: o}
	}

	prop := Property{Type: propType}

	switch propType {
	case TypeSelect:
		prop.Select = set
	case TypeMultiSelect:
		prop.MultiSelect = set
	case TypeStatus:
		prop.Status = set
	default:
		return fmt.Errorf("remote: property type %q has no options", propType)
	}

	req := updateDataSourceRequest{Properties: map[string]*Property{name: &prop}}

	if err := c.do(ctx, http.MethodPatch, "/v1/data_sources/"+dataSourceID, req, nil); err != nil {
		return fmt.Errorf("updating options of %q on %s: %w", name, dataSourceID, err)
	}

	return nil
}
