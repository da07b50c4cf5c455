package upstream

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// Default extraction rules for the tag media query id.
var (
	DefaultBundlePattern    = `en_US_Commons\.js/\w+\.js`
	DefaultProtocolPatterns = []string{
		`c="(\d+)",l="TAG_MEDIA_UPDATED"`,
		`byTagName\.get\(t\)\.pagination},queryId:"(\d+)",queryParams`,
	}
)

// BundleFetcher downloads a script bundle.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, rawURL string) ([]byte, error)
}

// BundleResolverConfig overrides the extraction rules. Empty fields use the defaults.
type BundleResolverConfig struct {
	BundlePattern    string
	ProtocolPatterns []string
}

// BundleResolver finds the protocol id inside the script bundle referenced by
// a bootstrap page. It implements crawler.ProtocolResolver.
type BundleResolver struct {
	fetcher  BundleFetcher
	bundle   *regexp.Regexp
	patterns []*regexp.Regexp
}

// NewBundleResolver compiles the extraction rules.
func NewBundleResolver(fetcher BundleFetcher, cfg BundleResolverConfig) (*BundleResolver, error) {
	bundleExpr := cfg.BundlePattern
	if bundleExpr == "" {
		bundleExpr = DefaultBundlePattern
	}
	bundle, err := regexp.Compile(bundleExpr)
	if err != nil {
		return nil, fmt.Errorf("compile bundle pattern: %w", err)
	}

	exprs := cfg.ProtocolPatterns
	if len(exprs) == 0 {
		exprs = DefaultProtocolPatterns
	}
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile protocol pattern %q: %w", expr, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("protocol pattern %q has no capture group", expr)
		}
		patterns = append(patterns, re)
	}
	return &BundleResolver{fetcher: fetcher, bundle: bundle, patterns: patterns}, nil
}

// Resolve returns the protocol id for a bootstrap payload. Inline scripts are
// searched first, then the referenced bundle is downloaded and searched.
func (r *BundleResolver) Resolve(ctx context.Context, bootstrap []byte) (string, error) {
	if id, ok := r.match(bootstrap); ok {
		return id, nil
	}

	src, err := r.bundleURL(bootstrap)
	if err != nil {
		return "", err
	}
	if r.fetcher == nil {
		return "", parseError("no bundle fetcher configured", nil)
	}
	script, err := r.fetcher.FetchBundle(ctx, src)
	if err != nil {
		return "", fmt.Errorf("fetch bundle: %w", err)
	}
	if id, ok := r.match(script); ok {
		return id, nil
	}
	return "", parseError("protocol id not found in bundle "+src, nil)
}

func (r *BundleResolver) match(data []byte) (string, bool) {
	for _, re := range r.patterns {
		if m := re.FindSubmatch(data); m != nil && len(m[1]) > 0 {
			return string(m[1]), true
		}
	}
	return "", false
}

func (r *BundleResolver) bundleURL(bootstrap []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(bootstrap))
	if err != nil {
		return "", parseError("parse bootstrap html", err)
	}
	var src string
	doc.Find("script[src], link[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		ref, ok := s.Attr("src")
		if !ok {
			ref, _ = s.Attr("href")
		}
		if r.bundle.MatchString(ref) {
			src = ref
			return false
		}
		return true
	})
	if src == "" {
		return "", parseError("bootstrap page references no protocol bundle", nil)
	}
	return src, nil
}
