package accounting

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ListEntities fetches one page of a model's entity list.
func (c *Client) ListEntities(ctx context.Context, model string, page, pageSize int) (*EntityPage, error) {
	q := url.Values{
		"page":      {strconv.Itoa(page)},
		"page_size": {strconv.Itoa(pageSize)},
	}
	path := "/api/" + url.PathEscape(model) + "?" + q.Encode()

	var res EntityPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	if res.Page == 0 {
		res.Page = page
	}
	if res.PageSize == 0 {
		res.PageSize = pageSize
	}
	return &res, nil
}

// BulkValidate asks which of the given entities are eligible for an operation.
func (c *Client) BulkValidate(ctx context.Context, model string, req BulkRequest) (*BulkValidation, error) {
	var res BulkValidation
	path := "/api/" + url.PathEscape(model) + "/bulk/validate"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkExecute runs an operation over the given entities.
func (c *Client) BulkExecute(ctx context.Context, model string, req BulkRequest) (*BulkOutcome, error) {
	var res BulkOutcome
	path := "/api/" + url.PathEscape(model) + "/bulk/" + url.PathEscape(req.Operation)
	if err := c.doJSON(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
