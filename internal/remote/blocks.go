package remote

import (
	"context"
	"fmt"
	"net/http"
)

// appendBlocksRequest is the body of PATCH /v1/blocks/{id}/children.
type appendBlocksRequest struct {
	Children []Block `json:"children"`
}

// ListBlockChildren fetches a page's body blocks, following pagination.
func (c *Client) ListBlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	var all []Block
	cursor := ""

	for {
		path := "/v1/blocks/" + blockID + "/children"
		if cursor != "" {
			path += "?start_cursor=" + cursor
		}

		var resp listEnvelope[Block]
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("listing children of %s: %w", blockID, err)
		}

		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}

		cursor = resp.NextCursor
	}

	return all, nil
}

// AppendBlockChildren appends blocks to a page body.
func (c *Client) AppendBlockChildren(ctx context.Context, blockID string, blocks []Block) error {
	if len(blocks) == 0 {
		return nil
	}

	req := appendBlocksRequest{Children: blocks}

	if err := c.do(ctx, http.MethodPatch, "/v1/blocks/"+blockID+"/children", req, nil); err != nil {
		return fmt.Errorf("appending children to %s: %w", blockID, err)
	}

	return nil
}

// DeleteBlock removes one block.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/blocks/"+blockID, nil, nil); err != nil {
		return fmt.Errorf("deleting block %s: %w", blockID, err)
	}

	return nil
}

// ReplaceBlockChildren replaces a page's body: existing children are
// deleted one by one, then the new blocks are appended. Block-level merge
// is out of scope; the record file is the unit of content sync.
func (c *Client) ReplaceBlockChildren(ctx context.Context, pageID string, blocks []Block) error {
	existing, err := c.ListBlockChildren(ctx, pageID)
	if err != nil {
		return err
	}

	for _, blk := range existing {
		if err := c.DeleteBlock(ctx, blk.ID); err != nil {
			return err
		}
	}

	return c.AppendBlockChildren(ctx, pageID, blocks)
}
