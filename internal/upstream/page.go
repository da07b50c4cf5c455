package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/2php/iffse/internal/crawler"
)

// FetchPage performs exactly one round trip to the paginated query surface.
// It never retries; the caller owns recovery.
func (c *Client) FetchPage(ctx context.Context, protocolID, cursor, topic string) (crawler.Page, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("X-Requested-With", "XMLHttpRequest")

	body, err := c.get(ctx, kindPage, c.queryURL(protocolID, cursor, topic), headers)
	if err != nil {
		return crawler.Page{}, err
	}
	return ParsePage(body, topic)
}

func (c *Client) queryURL(protocolID, cursor, topic string) string {
	u := c.base.JoinPath("graphql", "query")
	q := u.Query()
	q.Set("query_id", protocolID)
	q.Set("tag_name", topic)
	q.Set("first", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		q.Set("after", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParsePage decodes a query payload. Malformed or empty payloads are reported
// as rate limiting, which is how the upstream signals throttling and stale ids.
func ParsePage(body []byte, topic string) (crawler.Page, error) {
	var resp QueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crawler.Page{}, parseError("decode page", err)
	}
	if resp.Status == "fail" {
		return crawler.Page{}, &Error{Type: ErrorTypeRateLimit, Code: http.StatusOK, Message: resp.Message}
	}
	if resp.Data.Hashtag == nil || resp.Data.Hashtag.Media == nil {
		return crawler.Page{}, parseError("page has no media", nil)
	}
	media := resp.Data.Hashtag.Media
	if media.PageInfo.HasNextPage && media.PageInfo.EndCursor == "" {
		return crawler.Page{}, parseError("page reports more results without a cursor", nil)
	}
	return crawler.Page{
		Candidates: candidatesFromEdges(media.Edges, topic),
		NextCursor: media.PageInfo.EndCursor,
		HasMore:    media.PageInfo.HasNextPage,
	}, nil
}
