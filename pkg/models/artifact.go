package models

// ArtifactPayload carries raw bytes produced by a tool before they are
// persisted and replaced by content-addressed references.
type ArtifactPayload struct {
	Content      []byte `json:"content"`
	OriginalName string `json:"original_name,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ArtifactRef is the handle to a stored artifact. SHA256 is the hash of the
// content; StoredPath always resolves inside the store's base directory.
type ArtifactRef struct {
	SHA256       string `json:"sha256"`
	StoredPath   string `json:"stored_path"`
	OriginalName string `json:"original_name,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	Description  string `json:"description,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
}
