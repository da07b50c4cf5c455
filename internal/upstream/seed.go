package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
)

const sharedDataPrefix = "window._sharedData"

// Seed fetches the topic bootstrap page and extracts the protocol id, the
// embedded first page of candidates and the cursor to continue from.
func (c *Client) Seed(ctx context.Context, topic string) (crawler.Seed, error) {
	body, err := c.get(ctx, kindBootstrap, c.topicURL(topic), nil)
	if err != nil {
		return crawler.Seed{}, &crawler.SeedError{Topic: topic, Err: err}
	}

	seed, err := ParseBootstrap(body, topic)
	if err != nil {
		return crawler.Seed{}, &crawler.SeedError{Topic: topic, Err: err}
	}

	protocolID, err := c.resolver.Resolve(ctx, body)
	if err != nil {
		return crawler.Seed{}, &crawler.SeedError{Topic: topic, Err: fmt.Errorf("resolve protocol id: %w", err)}
	}
	seed.ProtocolID = protocolID

	c.logger.Debug("topic seeded",
		zap.String("topic", topic),
		zap.String("protocol_id", protocolID),
		zap.Int("candidates", len(seed.Candidates)),
		zap.Bool("has_more", seed.HasMore),
	)
	return seed, nil
}

func (c *Client) topicURL(topic string) string {
	return c.base.JoinPath("explore", "tags", topic).String() + "/"
}

// ParseBootstrap extracts candidates and the continuation cursor from a
// bootstrap document. The protocol id is left empty.
func ParseBootstrap(body []byte, topic string) (crawler.Seed, error) {
	blob, err := extractSharedData(body)
	if err != nil {
		return crawler.Seed{}, err
	}

	var shared SharedData
	if err := json.Unmarshal(blob, &shared); err != nil {
		return crawler.Seed{}, parseError("decode shared data", err)
	}
	if len(shared.EntryData.TagPage) == 0 {
		return crawler.Seed{}, parseError("shared data has no tag page", nil)
	}
	page := shared.EntryData.TagPage[0]

	var seed crawler.Seed
	switch {
	case page.GraphQL != nil && page.GraphQL.Hashtag != nil && page.GraphQL.Hashtag.Media != nil:
		media := page.GraphQL.Hashtag.Media
		seed.Candidates = candidatesFromEdges(media.Edges, topic)
		seed.Cursor = media.PageInfo.EndCursor
		seed.HasMore = media.PageInfo.HasNextPage
	case page.Tag != nil && page.Tag.Media != nil:
		media := page.Tag.Media
		for _, node := range media.Nodes {
			if node.Code == "" || node.DisplaySrc == "" {
				continue
			}
			seed.Candidates = append(seed.Candidates, crawler.Candidate{
				ItemKey:  node.Code,
				MediaURL: node.DisplaySrc,
				Topic:    topic,
			})
		}
		seed.Cursor = media.PageInfo.EndCursor
		seed.HasMore = media.PageInfo.HasNextPage
	default:
		return crawler.Seed{}, parseError("tag page has no media", nil)
	}
	if seed.HasMore && seed.Cursor == "" {
		return crawler.Seed{}, parseError("bootstrap reports more pages without a cursor", nil)
	}
	return seed, nil
}

// extractSharedData returns the JSON assigned to window._sharedData.
func extractSharedData(body []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, parseError("parse bootstrap html", err)
	}

	var blob string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(text, sharedDataPrefix) {
			return true
		}
		text = strings.TrimSpace(strings.TrimPrefix(text, sharedDataPrefix))
		text = strings.TrimSpace(strings.TrimPrefix(text, "="))
		blob = strings.TrimSuffix(text, ";")
		return false
	})
	if blob == "" {
		return nil, parseError("bootstrap page has no shared data", nil)
	}
	return []byte(blob), nil
}

func candidatesFromEdges(edges []MediaEdge, topic string) []crawler.Candidate {
	out := make([]crawler.Candidate, 0, len(edges))
	for _, edge := range edges {
		if edge.Node.Shortcode == "" || edge.Node.DisplayURL == "" {
			continue
		}
		out = append(out, crawler.Candidate{
			ItemKey:  edge.Node.Shortcode,
			MediaURL: edge.Node.DisplayURL,
			Topic:    topic,
		})
	}
	return out
}
