package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/byebiz/layerone/internal/blob"
	"github.com/byebiz/layerone/internal/model"
	"github.com/byebiz/layerone/internal/store"
	"github.com/byebiz/layerone/pkg/reasoning"
)

// maxDocumentChars bounds the text taken from each uploaded document so the
// downstream request stays within the service's context limits.
const maxDocumentChars = 10000

const financialPromptTemplate = `You are an expert M&A financial analyst. Review the following extracted textual data from uploaded Profit & Loss and Balance Sheet documents.

Data:
%s

Your goal is to calculate the TRUE Seller's Discretionary Earnings (SDE).
To do this, identify the current Net Profit, and identify any typical "Add-backs" (owner's salary, personal expenses run through the business, one-time non-recurring expenses).
SDE = Net Profit + Add-backs.

Output a strict JSON object with:
- financial_net_profit (number)
- financial_add_backs (number)
- financial_sde (number)
- notes (string explaining the add backs found)

Respond with ONLY the JSON object. Do not include markdown formatting or backticks.`

// sdeTolerance is the largest accepted gap between the reported SDE and the
// locally computed net profit + add-backs (one cent).
const sdeTolerance = 0.01

// Financial extracts SDE figures from the record's uploaded documents and
// writes the financial field group.
type Financial struct {
	store  store.Store
	blobs  blob.Store
	client reasoning.Client
	cfg    Config
}

// NewFinancial creates the financial stage worker.
func NewFinancial(st store.Store, blobs blob.Store, client reasoning.Client, cfg Config) *Financial {
	return &Financial{store: st, blobs: blobs, client: client, cfg: cfg.withDefaults()}
}

func (s *Financial) Name() string { return NameFinancial }

type financialPayload struct {
	NetProfit *float64 `json:"financial_net_profit"`
	AddBacks  *float64 `json:"financial_add_backs"`
	SDE       *float64 `json:"financial_sde"`
	Notes     *string  `json:"notes"`
}

// Run reads the uploaded documents, calls the reasoning service and merges
// the financial field group. Conflict on merge means a duplicate completion
// and is swallowed.
func (s *Financial) Run(ctx context.Context, req Request) error {
	log := zap.L().With(zap.String("stage", s.Name()), zap.String("record_id", req.RecordID))

	combined, err := s.gatherDocuments(ctx, req)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	temp := 0.1
	resp, err := s.client.Complete(callCtx, reasoning.Request{
		Prompt:      fmt.Sprintf(financialPromptTemplate, combined),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return &model.UpstreamError{Op: "financial call", Err: err}
	}

	result, adjusted, err := parseFinancial(resp.Text)
	if err != nil {
		return &model.UpstreamError{Op: "financial parse", Err: err}
	}
	if adjusted {
		log.Warn("reported sde inconsistent with net profit + add-backs, recomputed locally",
			zap.Float64("sde", result.SDE))
	}

	rec, err := s.store.ApplyPatch(ctx, req.RecordID, model.FinancialPatch(*result))
	if errors.Is(err, model.ErrConflict) {
		log.Info("duplicate financial completion discarded")
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "financial: merge record %s", req.RecordID)
	}

	log.Info("financial stage complete",
		zap.Float64("sde", result.SDE),
		zap.String("status", string(rec.Status)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// gatherDocuments reads the batch's blobs and concatenates their text, each
// document truncated to a bounded size. Explicit paths from the upload flow
// are preferred; listing is the fallback for manual re-triggers.
func (s *Financial) gatherDocuments(ctx context.Context, req Request) (string, error) {
	paths := req.DocumentPaths
	if len(paths) == 0 {
		listed, err := s.blobs.List(ctx, req.RecordID)
		if err != nil {
			return "", &model.StorageError{Op: "list documents", Err: err}
		}
		paths = listed
	}
	if len(paths) == 0 {
		return "", &model.StorageError{Op: "gather documents", Err: eris.Errorf("no documents stored for record %s", req.RecordID)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	texts := make([]string, len(paths))
	for i, p := range paths {
		g.Go(func() error {
			data, err := s.blobs.Get(gctx, p)
			if err != nil {
				return &model.StorageError{Op: "read document", Err: err}
			}
			texts[i] = truncateText(string(data), maxDocumentChars)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Extracted contents from:\n")
	for i, p := range paths {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", path.Base(p), texts[i])
	}
	return b.String(), nil
}

// parseFinancial validates the service output and enforces the SDE identity:
// when the reported triple disagrees beyond a cent, the SDE is recomputed
// from net profit + add-backs and the discrepancy is recorded in the metrics
// rather than trusted or rejected.
func parseFinancial(text string) (*model.FinancialResult, bool, error) {
	var payload financialPayload
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		return nil, false, eris.Wrap(err, "unparsable financial output")
	}
	if payload.NetProfit == nil {
		return nil, false, eris.New("financial output missing financial_net_profit")
	}
	if payload.AddBacks == nil {
		return nil, false, eris.New("financial output missing financial_add_backs")
	}
	if payload.SDE == nil {
		return nil, false, eris.New("financial output missing financial_sde")
	}
	for name, v := range map[string]float64{
		"financial_net_profit": *payload.NetProfit,
		"financial_add_backs":  *payload.AddBacks,
		"financial_sde":        *payload.SDE,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false, eris.Errorf("%s is not a finite number", name)
		}
	}
	if *payload.AddBacks < 0 {
		return nil, false, eris.Errorf("financial_add_backs %f is negative", *payload.AddBacks)
	}

	result := &model.FinancialResult{
		NetProfit: *payload.NetProfit,
		AddBacks:  *payload.AddBacks,
		SDE:       *payload.SDE,
		Metrics:   map[string]any{},
	}
	if payload.Notes != nil {
		result.Metrics["notes"] = *payload.Notes
	}

	computed := result.NetProfit + result.AddBacks
	adjusted := math.Abs(result.SDE-computed) > sdeTolerance
	if adjusted {
		result.Metrics["sde_adjusted"] = true
		result.Metrics["reported_sde"] = result.SDE
		result.SDE = computed
	}
	return result, adjusted, nil
}
