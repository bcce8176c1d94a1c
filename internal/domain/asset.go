package domain

// AssetRef points at a durably stored artifact produced by a job. The list
// on a job is populated once, at persistence time, and frozen afterwards.
type AssetRef struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	MIME         string `json:"mime"`
	SizeBytes    int64  `json:"size_bytes"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// ReferenceAsset is an uploaded image used as conditioning input for
// image-conditioned generation. Adapters base64-encode Data on the wire.
type ReferenceAsset struct {
	Name string
	MIME string
	Data []byte
}
