package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches all pages from a database, handling pagination. While
// page N is being consumed the next page is already being fetched.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	type prefetch struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}
	var prefetchCh <-chan prefetch

	for {
		var resp *notionapi.DatabaseQueryResponse
		var err error

		if prefetchCh != nil {
			result := <-prefetchCh
			resp, err = result.resp, result.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, req)
		}
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}

		nextReq := &notionapi.DatabaseQueryRequest{
			StartCursor: resp.NextCursor,
		}
		if filter != nil {
			nextReq.Filter = filter.Filter
			nextReq.Sorts = filter.Sorts
			nextReq.PageSize = filter.PageSize
		}

		ch := make(chan prefetch, 1)
		prefetchCh = ch
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, nextReq)
			ch <- prefetch{resp: r, err: e}
		}()
	}

	return all, nil
}

// FindPageByTitle returns the first page in the database whose title
// property equals the given text, or nil when none matches.
func FindPageByTitle(ctx context.Context, c Client, dbID, title string) (*notionapi.Page, error) {
	resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Name",
			RichText: &notionapi.TextFilterCondition{
				Equals: title,
			},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find page %q", title)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}
