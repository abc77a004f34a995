package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/byebiz/layerone/internal/model"
	"github.com/byebiz/layerone/internal/store"
	"github.com/byebiz/layerone/pkg/reasoning"
)

const osintPromptTemplate = `You are an M&A OSINT analyst. Run a search for the company %q located in %q, Germany.
Your goal is to extract exactly these 10 metrics:
1. Founding year (from Impressum or registers)
2. Estimated employee count (from LinkedIn)
3. Public ratings and reviews
4. Active job postings indicating growth
5. Industry certifications like ISO
6. Media or PR mentions
7. Website technology modernity
8. Public presence of key management
9. Number of physical locations
10. Digital activity frequency

Evaluate these points and generate a strict JSON object with:
- trustScore (integer between 0 and 100 representing confidence and legitimacy)
- marketSummary (a detailed text summary of your findings as an anonymous teaser)
- metrics (a JSON object containing the 10 data points you found)

Respond with ONLY the JSON object. Do not include markdown formatting or backticks around the JSON.`

// OSINT verifies a company against its public footprint and writes the
// trust/market field group.
type OSINT struct {
	store  store.Store
	client reasoning.Client
	cfg    Config
}

// NewOSINT creates the OSINT stage worker.
func NewOSINT(st store.Store, client reasoning.Client, cfg Config) *OSINT {
	return &OSINT{store: st, client: client, cfg: cfg.withDefaults()}
}

func (s *OSINT) Name() string { return NameOSINT }

// osintPayload mirrors the service's JSON contract. Pointer fields so that
// missing keys are distinguishable from zero values.
type osintPayload struct {
	TrustScore    *int           `json:"trustScore"`
	MarketSummary *string        `json:"marketSummary"`
	Metrics       map[string]any `json:"metrics"`
}

// Run gathers the public-data input, calls the reasoning service and merges
// the OSINT field group. A duplicate completion observing a status conflict
// is logged and swallowed; every other failure leaves the record untouched.
func (s *OSINT) Run(ctx context.Context, req Request) error {
	log := zap.L().With(zap.String("stage", s.Name()), zap.String("record_id", req.RecordID))

	if req.CompanyName == "" || req.City == "" {
		// Inputs were not passed forward; recover them from the record.
		rec, err := s.store.GetRecord(ctx, req.RecordID)
		if err != nil {
			return eris.Wrapf(err, "osint: load record %s", req.RecordID)
		}
		req.CompanyName = rec.Intake.CompanyName
		req.City = rec.Intake.City
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	temp := 0.2
	resp, err := s.client.Complete(callCtx, reasoning.Request{
		Prompt:      fmt.Sprintf(osintPromptTemplate, req.CompanyName, req.City),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return &model.UpstreamError{Op: "osint call", Err: err}
	}

	result, err := parseOSINT(resp.Text)
	if err != nil {
		return &model.UpstreamError{Op: "osint parse", Err: err}
	}

	rec, err := s.store.ApplyPatch(ctx, req.RecordID, model.OSINTPatch(*result))
	if errors.Is(err, model.ErrConflict) {
		log.Info("duplicate osint completion discarded")
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "osint: merge record %s", req.RecordID)
	}

	log.Info("osint stage complete",
		zap.Int("trust_score", result.TrustScore),
		zap.String("status", string(rec.Status)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// parseOSINT validates the service output: all fields present, the score in
// range. Unparsable output is a failure, never a partial extraction.
func parseOSINT(text string) (*model.OSINTResult, error) {
	var payload osintPayload
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrap(err, "unparsable osint output")
	}
	if payload.TrustScore == nil {
		return nil, eris.New("osint output missing trustScore")
	}
	if *payload.TrustScore < 0 || *payload.TrustScore > 100 {
		return nil, eris.Errorf("trustScore %d out of range [0,100]", *payload.TrustScore)
	}
	if payload.MarketSummary == nil || *payload.MarketSummary == "" {
		return nil, eris.New("osint output missing marketSummary")
	}
	if len(payload.Metrics) == 0 {
		return nil, eris.New("osint output missing metrics")
	}
	return &model.OSINTResult{
		TrustScore:    *payload.TrustScore,
		MarketSummary: *payload.MarketSummary,
		Metrics:       payload.Metrics,
	}, nil
}
