package upstream

// PageInfo carries pagination metadata.
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

// MediaNode is one item as delivered by the paginated query surface.
type MediaNode struct {
	Shortcode  string `json:"shortcode"`
	DisplayURL string `json:"display_url"`
}

// MediaEdge wraps a MediaNode.
type MediaEdge struct {
	Node MediaNode `json:"node"`
}

// MediaConnection is the edge_hashtag_to_media object.
type MediaConnection struct {
	Count    int         `json:"count"`
	PageInfo PageInfo    `json:"page_info"`
	Edges    []MediaEdge `json:"edges"`
}

// Hashtag is the hashtag object returned by the query surface.
type Hashtag struct {
	Name  string           `json:"name"`
	Media *MediaConnection `json:"edge_hashtag_to_media"`
}

// QueryResponse is the paginated query payload.
type QueryResponse struct {
	Data struct {
		Hashtag *Hashtag `json:"hashtag"`
	} `json:"data"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// legacyNode is the node shape embedded in older bootstrap pages.
type legacyNode struct {
	Code       string `json:"code"`
	DisplaySrc string `json:"display_src"`
}

type legacyMedia struct {
	Nodes    []legacyNode `json:"nodes"`
	PageInfo PageInfo     `json:"page_info"`
}

// SharedData is the window._sharedData blob of a topic bootstrap page.
type SharedData struct {
	EntryData struct {
		TagPage []struct {
			Tag *struct {
				Media *legacyMedia `json:"media"`
			} `json:"tag"`
			GraphQL *struct {
				Hashtag *Hashtag `json:"hashtag"`
			} `json:"graphql"`
		} `json:"TagPage"`
	} `json:"entry_data"`
}
