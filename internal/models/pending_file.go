// Package models contains the shared data contracts of the cleaning workflow.
package models

import (
	"mime"
	"path/filepath"
	"strings"
)

// PendingFile is a file selected for processing but not yet submitted.
type PendingFile struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType,omitempty"` // declared type, may be empty
	Size      int64  `json:"size"`
	Content   []byte `json:"-"`
}

// ProcessingRequest is the body of POST /api/process.
type ProcessingRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Data     string `json:"data"`
}

// NewProcessingRequest builds the wire payload for a pending file.
func NewProcessingRequest(f PendingFile) ProcessingRequest {
	return ProcessingRequest{
		FileName: f.Name,
		FileType: FileTypeOf(f.Name, f.MediaType),
		Data:     string(f.Content),
	}
}

// FileTypeOf returns the lower-cased extension of name without the dot.
// Names without an extension fall back to the subtype of the declared media type.
func FileTypeOf(name, mediaType string) string {
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if mediaType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return ""
	}
	if i := strings.LastIndex(mt, "/"); i >= 0 {
		return mt[i+1:]
	}
	return ""
}
