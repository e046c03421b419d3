package jellyfin

// BaseItem is the subset of Jellyfin's BaseItemDto used by JellyGrab.
type BaseItem struct {
	ID                string        `json:"Id"`
	Name              string        `json:"Name"`
	Type              string        `json:"Type"`
	CollectionType    string        `json:"CollectionType,omitempty"`
	SeriesID          string        `json:"SeriesId,omitempty"`
	SeriesName        string        `json:"SeriesName,omitempty"`
	SeasonID          string        `json:"SeasonId,omitempty"`
	IndexNumber       int           `json:"IndexNumber,omitempty"`
	ParentIndexNumber int           `json:"ParentIndexNumber,omitempty"`
	ProductionYear    int           `json:"ProductionYear,omitempty"`
	Overview          string        `json:"Overview,omitempty"`
	ChildCount        int           `json:"ChildCount,omitempty"`
	MediaSources      []MediaSource `json:"MediaSources,omitempty"`
}

// MediaSource describes one playable file behind an item.
type MediaSource struct {
	ID        string `json:"Id"`
	Container string `json:"Container"`
	Size      int64  `json:"Size"`
	Path      string `json:"Path,omitempty"`
}

// ItemsResult is the envelope returned by listing endpoints.
type ItemsResult struct {
	Items            []BaseItem `json:"Items"`
	TotalRecordCount int        `json:"TotalRecordCount"`
}

type authenticateRequest struct {
	Username string `json:"Username"`
	Pw       string `json:"Pw"`
}

type authenticateResponse struct {
	AccessToken string `json:"AccessToken"`
	User        struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	} `json:"User"`
}
