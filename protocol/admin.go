package protocol

// Admin HTTP API paths served next to the line protocol.
const (
	PathHealth = "/healthz"
	PathStats  = "/stats"
	// APIPrefix groups the versioned data routes.
	APIPrefix = "/v1"
	PathKeys  = APIPrefix + "/keys"
	// PathEntry addresses a single entry; GET and DELETE take the key as
	// the "key" query parameter, PUT takes an EntryRequest body.
	PathEntry = APIPrefix + "/entry"
)

// EntryRequest is the PUT body for PathEntry.
type EntryRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// EntryResponse is returned by GET on PathEntry for a live key.
type EntryResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DeleteResponse is returned by DELETE on PathEntry.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// KeysResponse is returned by GET on PathKeys.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// Stats is returned by GET on PathStats.
type Stats struct {
	ConnectionsTotal  int64 `json:"connections_total"`
	ConnectionsActive int64 `json:"connections_active"`
	Commands          int64 `json:"commands_total"`
	CommandErrors     int64 `json:"command_errors"`
	Swept             int64 `json:"swept_total"`
	Entries           int   `json:"entries"`
}
