package models

// FetchResult is the outcome of a server fetch without persistence.
type FetchResult struct {
	Mails         []Mail `json:"mails"`
	TotalOnServer uint32 `json:"total_on_server"`
	Fetched       int    `json:"fetched"`
}

// SyncResult is the outcome of a full sync: fetch, cache persist, watermark
// advance. Mails holds the post-persist cached set when the persist
// succeeded, otherwise the raw fetched set.
type SyncResult struct {
	Mails         []Mail `json:"mails"`
	TotalOnServer uint32 `json:"total_on_server"`
	Fetched       int    `json:"fetched"`
	Cached        int    `json:"cached"`
}

// SearchResult is the outcome of a live server-side search. Results are
// transient and never written to the cache. Protocol marks why a search
// returned nothing for protocols without search capability.
type SearchResult struct {
	Mails     []Mail   `json:"mails"`
	Searched  int      `json:"searched"`
	DateRange string   `json:"date_range"`
	Protocol  Protocol `json:"protocol"`
}
