package processing

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/dataclean/cleanctl/internal/models"
)

// Wire shapes use pointers so absent fields can be told apart from zero values.

type wireStatistics struct {
	TotalRows         *int      `json:"totalRows"`
	MissingValues     *int      `json:"missingValues"`
	Outliers          *int      `json:"outliers"`
	Duplicates        *int      `json:"duplicates"`
	NormalizedColumns *[]string `json:"normalizedColumns"`
}

type wireResult struct {
	OriginalFile   *string         `json:"originalFile"`
	ProcessedFile  *string         `json:"processedFile"`
	Statistics     *wireStatistics `json:"statistics"`
	ProcessingTime *float64        `json:"processingTime"`
	Status         *string         `json:"status"`
	Message        *string         `json:"message"`
}

type wireError struct {
	Error string `json:"error"`
}

type wireStatus struct {
	Status      *string `json:"status"`
	Progress    *int    `json:"progress"`
	CurrentStep *string `json:"currentStep"`
}

// decodeResult projects a 2xx body of POST /api/process onto a ProcessingResult.
// A service-declared error is returned as a result, not as an error.
func decodeResult(raw []byte, fileName string) (*models.ProcessingResult, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, newMalformed(raw, "empty response body")
	}

	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, newMalformed(raw, "invalid JSON: %v", err)
	}
	if w.Status == nil {
		return nil, newMalformed(raw, "missing status")
	}

	res := &models.ProcessingResult{
		OriginalFile:  fileName,
		ProcessedFile: deref(w.ProcessedFile),
		Message:       strings.TrimSpace(deref(w.Message)),
		Statistics:    models.Statistics{NormalizedColumns: []string{}},
	}
	if w.OriginalFile != nil && *w.OriginalFile != "" {
		res.OriginalFile = *w.OriginalFile
	}
	if w.ProcessingTime != nil {
		if *w.ProcessingTime < 0 {
			return nil, newMalformed(raw, "negative processingTime")
		}
		res.ProcessingTime = *w.ProcessingTime
	}

	switch models.ResultStatus(*w.Status) {
	case models.ResultStatusError:
		res.Status = models.ResultStatusError
		res.ProcessedFile = ""
		if res.Message == "" {
			res.Message = genericFailure
		}
		return res, nil
	case models.ResultStatusSuccess:
		stats, reason := projectStatistics(w.Statistics)
		if reason != "" {
			return nil, newMalformed(raw, "%s", reason)
		}
		if strings.TrimSpace(res.ProcessedFile) == "" {
			return nil, newMalformed(raw, "success result missing processedFile")
		}
		if w.ProcessingTime == nil {
			return nil, newMalformed(raw, "success result missing processingTime")
		}
		res.Status = models.ResultStatusSuccess
		res.Statistics = stats
		// A message is only meaningful on failure.
		res.Message = ""
		return res, nil
	default:
		return nil, newMalformed(raw, "unknown status %q", *w.Status)
	}
}

// projectStatistics returns the reason the record is unusable, or "".
func projectStatistics(s *wireStatistics) (models.Statistics, string) {
	if s == nil {
		return models.Statistics{}, "response has no statistics"
	}
	counts := []struct {
		name string
		v    *int
	}{
		{"totalRows", s.TotalRows},
		{"missingValues", s.MissingValues},
		{"outliers", s.Outliers},
		{"duplicates", s.Duplicates},
	}
	for _, c := range counts {
		if c.v == nil {
			return models.Statistics{}, "statistics missing " + c.name
		}
		if *c.v < 0 {
			return models.Statistics{}, "statistics has negative " + c.name
		}
	}
	if s.NormalizedColumns == nil {
		return models.Statistics{}, "statistics missing normalizedColumns"
	}
	return models.Statistics{
		TotalRows:         *s.TotalRows,
		MissingValues:     *s.MissingValues,
		Outliers:          *s.Outliers,
		Duplicates:        *s.Duplicates,
		NormalizedColumns: append([]string{}, (*s.NormalizedColumns)...),
	}, ""
}

// decodeErrorText pulls the "error" field out of a failure body, if any.
func decodeErrorText(raw []byte) string {
	var w wireError
	if err := json.Unmarshal(raw, &w); err != nil {
		return ""
	}
	return strings.TrimSpace(w.Error)
}

func decodeStatus(raw []byte) (*models.JobStatus, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, newMalformed(raw, "empty status body")
	}
	var w wireStatus
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, newMalformed(raw, "invalid JSON: %v", err)
	}
	if w.Status == nil {
		return nil, newMalformed(raw, "status missing status")
	}
	if w.Progress == nil {
		return nil, newMalformed(raw, "status missing progress")
	}
	if *w.Progress < 0 || *w.Progress > 100 {
		return nil, newMalformed(raw, "progress %d out of range", *w.Progress)
	}
	return &models.JobStatus{
		Status:      *w.Status,
		Progress:    *w.Progress,
		CurrentStep: deref(w.CurrentStep),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
