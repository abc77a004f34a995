// Package stage implements the two enrichment workers of the verification
// pipeline. Both follow the same shape: gather stage input, call the
// reasoning service, parse its structured output, then merge the field group
// into the record store under a status precondition. Any failure before the
// merge leaves the record untouched so the stage stays visibly incomplete
// and retriable.
package stage

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Stage names, used for dispatch and manual re-triggering.
const (
	NameOSINT     = "osint"
	NameFinancial = "financial"
)

// Request carries the trigger inputs for a single stage run.
type Request struct {
	RecordID    string `json:"record_id"`
	CompanyName string `json:"company_name,omitempty"`
	City        string `json:"city,omitempty"`
	// DocumentPaths are explicit blob handles passed forward by the upload
	// flow. When empty the financial stage falls back to listing the blob
	// store (manual re-trigger path).
	DocumentPaths []string `json:"document_paths,omitempty"`
}

// Stage is one independently triggered enrichment phase.
type Stage interface {
	Name() string
	Run(ctx context.Context, req Request) error
}

// Config tunes stage execution.
type Config struct {
	// CallTimeout bounds a single reasoning-service call.
	CallTimeout time.Duration
	// MaxTokens caps the response size requested from the service.
	MaxTokens int64
}

// DefaultConfig returns the stage defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 120 * time.Second,
		MaxTokens:   4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping the service adds despite instructions.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// truncateText bounds s to at most max bytes without splitting a rune at the
// boundary. Invalid bytes elsewhere in the text pass through untouched, the
// same as when the text fits entirely.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if utf8.RuneStart(s[max]) {
		return cut
	}
	// The boundary may have split a multi-byte sequence. Trim from the last
	// lead byte unless the window already ends on a complete rune there (the
	// byte past the cut was an orphan continuation byte).
	for i := len(cut) - 1; i >= 0 && i >= len(cut)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(cut[i]) {
			continue
		}
		if r, size := utf8.DecodeRuneInString(cut[i:]); size == len(cut)-i && (r != utf8.RuneError || size > 1) {
			return cut
		}
		return cut[:i]
	}
	return cut
}
