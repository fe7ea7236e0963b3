package models

import "time"

// Run is one terminal workflow outcome kept in the history database.
type Run struct {
	ID         string            `json:"id"`
	Attempt    uint64            `json:"attempt"`
	FileName   string            `json:"fileName"`
	FileType   string            `json:"fileType"`
	Result     *ProcessingResult `json:"result"`
	FinishedAt time.Time         `json:"finishedAt"`
}
