package models

import "time"

// FileInfo describes a processed file fetched from the cleaning service.
type FileInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Reference    string    `json:"reference"` // service id the file was downloaded with
	Size         int64     `json:"size"`
	DownloadedAt time.Time `json:"downloadedAt"`
}
