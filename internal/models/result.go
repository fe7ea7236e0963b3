package models

// ResultStatus is the outcome declared by the cleaning service.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusError   ResultStatus = "error"
)

// Statistics summarizes what the service changed in the file.
type Statistics struct {
	TotalRows         int      `json:"totalRows"`
	MissingValues     int      `json:"missingValues"`
	Outliers          int      `json:"outliers"`
	Duplicates        int      `json:"duplicates"`
	NormalizedColumns []string `json:"normalizedColumns"`
}

// ProcessingResult is the normalized outcome of one submission attempt.
type ProcessingResult struct {
	OriginalFile   string       `json:"originalFile"`
	ProcessedFile  string       `json:"processedFile"`
	Statistics     Statistics   `json:"statistics"`
	ProcessingTime float64      `json:"processingTime"` // seconds
	Status         ResultStatus `json:"status"`
	Message        string       `json:"message,omitempty"`
}

// Succeeded reports whether the result describes a successful run.
func (r *ProcessingResult) Succeeded() bool {
	return r != nil && r.Status == ResultStatusSuccess
}

// StatusReference is the identifier used for status polls and downloads.
// The cleaning service keys jobs by the submitted file name.
func (r *ProcessingResult) StatusReference() string {
	return r.OriginalFile
}

// Clone returns a deep copy so snapshots never share the column slice.
func (r *ProcessingResult) Clone() *ProcessingResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Statistics.NormalizedColumns = append([]string(nil), r.Statistics.NormalizedColumns...)
	if out.Statistics.NormalizedColumns == nil {
		out.Statistics.NormalizedColumns = []string{}
	}
	return &out
}

// NewErrorResult builds a failed result with zeroed statistics.
func NewErrorResult(fileName, message string) *ProcessingResult {
	return &ProcessingResult{
		OriginalFile: fileName,
		Statistics: Statistics{
			NormalizedColumns: []string{},
		},
		Status:  ResultStatusError,
		Message: message,
	}
}
