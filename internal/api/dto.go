package api

import "github.com/starford/raido/internal/indexdoc"

// IndexResponse wraps an index read for the UI's data hooks.
type IndexResponse[T any] struct {
	Data []T `json:"data"`
}

// CollectionsResponse is the GET /collections payload.
type CollectionsResponse = IndexResponse[indexdoc.Collection]

// SingletonsResponse is the GET /singletons payload.
type SingletonsResponse = IndexResponse[indexdoc.Singleton]

// MediaResponse is the GET /media payload.
type MediaResponse = IndexResponse[indexdoc.Media]

// SaveDocumentRequest is the request body for PUT /documents/*.
type SaveDocumentRequest struct {
	Collection   string `json:"collection"`
	Slug         string `json:"slug"`
	Content      string `json:"content"`
	PreviousSlug string `json:"previousSlug,omitempty"`
	PreviousPath string `json:"previousPath,omitempty"`
}

// SaveDocumentResponse reports the commit created by a save.
type SaveDocumentResponse struct {
	Revision string `json:"revision"`
}

// RebuildProgressResponse is the GET /rebuild/progress payload.
type RebuildProgressResponse struct {
	Processed int64  `json:"processed"`
	Total     int64  `json:"total"`
	State     string `json:"state"`
}
