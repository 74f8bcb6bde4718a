package db

// SearchQuery is a fully resolved FT.SEARCH invocation: the query string
// produced by the resolver plus sort, pagination and query parameters.
type SearchQuery struct {
	IndexName string
	Query     string
	Params    map[string]string // PARAMS key/value pairs ($name references in Query)
	SortBy    string
	SortDesc  bool
	Offset    int
	Limit     int
	Return    []string
}

// SearchEntry is one document in a search result.
type SearchEntry struct {
	Key    string
	Fields map[string]string
}

// SearchResult holds FT.SEARCH results.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}
