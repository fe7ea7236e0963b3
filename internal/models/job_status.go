package models

// JobStatus is the answer to an out-of-band status poll.
type JobStatus struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"` // 0-100
	CurrentStep string `json:"currentStep"`
}
