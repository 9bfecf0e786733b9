package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ownerexit/ownerexit-cli/internal/api"
	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/model"
	"github.com/ownerexit/ownerexit-cli/internal/store"
)

var (
	batchCSV         string
	batchOutput      string
	batchConcurrency int
	batchSave        bool
	batchQuiet       bool
)

var appraiseBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Appraise every row of a CSV file",
	Long: `Reads a CSV with a header row and writes one JSON line per data row.

Recognised columns (case and underscores ignored): industry, annual_revenue
(or revenue), annual_profit (or profit), years_operating (or years), state,
owner_operated, email, name, business_name, phone. Rows that fail are written
with an "error" field and do not stop the batch.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		if batchCSV == "" {
			return eris.New("appraise batch: --csv is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(batchCSV)
		if err != nil {
			return eris.Wrap(err, "appraise batch: open csv")
		}
		defer f.Close() //nolint:errcheck

		rows, err := readBatchCSV(f)
		if err != nil {
			return err
		}

		calc, _, err := buildCalculators()
		if err != nil {
			return err
		}

		var st store.Store
		if batchSave {
			if err := cfg.Validate("store"); err != nil {
				return err
			}
			st, err = openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		out := io.Writer(os.Stdout)
		if batchOutput != "" && batchOutput != "-" {
			of, err := os.Create(batchOutput)
			if err != nil {
				return eris.Wrap(err, "appraise batch: create output")
			}
			defer of.Close() //nolint:errcheck
			out = of
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.Concurrency
		}

		stats, err := runBatch(ctx, rows, batchRunner{
			calc:        calc,
			store:       st,
			concurrency: concurrency,
			quiet:       batchQuiet,
		}, out)
		if err != nil {
			return err
		}

		zap.L().Info("batch complete",
			zap.Int64("succeeded", stats.succeeded),
			zap.Int64("failed", stats.failed),
			zap.Int64("leads", stats.leads),
		)
		return nil
	},
}

func init() {
	f := appraiseBatchCmd.Flags()
	f.StringVar(&batchCSV, "csv", "", "input CSV file (required)")
	f.StringVarP(&batchOutput, "output", "o", "", "output JSONL file (default stdout)")
	f.IntVar(&batchConcurrency, "concurrency", 0, "parallel appraisals (default from config)")
	f.BoolVar(&batchSave, "save", false, "store rows with an email as leads")
	f.BoolVarP(&batchQuiet, "quiet", "q", false, "hide the progress bar")
	appraiseCmd.AddCommand(appraiseBatchCmd)
}

// batchRow is one parsed CSV data row. Err is set when the row could not be
// turned into an input.
type batchRow struct {
	Line    int
	Input   appraisal.BasicInput
	Contact model.Contact
	Err     error
}

// batchRecord is one JSONL output line.
type batchRecord struct {
	Line   int               `json:"line"`
	Result *appraisal.Result `json:"result,omitempty"`
	LeadID string            `json:"leadId,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type batchStats struct {
	succeeded int64
	failed    int64
	leads     int64
}

type batchRunner struct {
	calc        *appraisal.Calculator
	store       store.Store
	concurrency int
	quiet       bool
}

var batchColumns = map[string]string{
	"industry":       "industry",
	"annualrevenue":  "revenue",
	"revenue":        "revenue",
	"annualprofit":   "profit",
	"profit":         "profit",
	"yearsoperating": "years",
	"years":          "years",
	"state":          "state",
	"owneroperated":  "owner",
	"email":          "email",
	"name":           "name",
	"businessname":   "business",
	"phone":          "phone",
}

func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(h)
}

// readBatchCSV parses the header and data rows. Unknown columns are ignored;
// the industry, revenue and profit columns must be present.
func readBatchCSV(r io.Reader) ([]batchRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("appraise batch: csv is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "appraise batch: read header")
	}

	cols := make(map[string]int)
	for i, h := range header {
		if name, ok := batchColumns[headerKey(h)]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	for _, req := range []string{"industry", "revenue", "profit"} {
		if _, ok := cols[req]; !ok {
			return nil, eris.Errorf("appraise batch: csv has no %s column", req)
		}
	}

	var rows []batchRow
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "appraise batch: read line %d", line)
		}
		if blankRecord(rec) {
			continue
		}
		rows = append(rows, parseBatchRecord(line, rec, cols))
	}
	return rows, nil
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseBatchRecord(line int, rec []string, cols map[string]int) batchRow {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row := batchRow{
		Line: line,
		Input: appraisal.BasicInput{
			Industry: get("industry"),
			State:    get("state"),
		},
		Contact: model.Contact{
			Email:        get("email"),
			Name:         get("name"),
			BusinessName: get("business"),
			Phone:        get("phone"),
		},
	}

	for name, dst := range map[string]*appraisal.Number{
		"revenue": &row.Input.AnnualRevenue,
		"profit":  &row.Input.AnnualProfit,
		"years":   &row.Input.YearsOperating,
	} {
		n, err := appraisal.ParseNumber(get(name))
		if err != nil {
			row.Err = eris.Wrap(err, name)
			return row
		}
		*dst = n
	}

	if v := strings.ToLower(get("owner")); v != "" {
		switch v {
		case "true", "yes", "y", "1":
			owner := true
			row.Input.OwnerOperated = &owner
		case "false", "no", "n", "0":
			owner := false
			row.Input.OwnerOperated = &owner
		default:
			row.Err = eris.Errorf("owner_operated: invalid value %q", v)
		}
	}
	return row
}

// runBatch appraises rows concurrently and writes one record per row to out
// in input order. Row failures are recorded, not returned.
func runBatch(ctx context.Context, rows []batchRow, br batchRunner, out io.Writer) (batchStats, error) {
	if len(rows) == 0 {
		zap.L().Info("no rows to appraise")
		return batchStats{}, nil
	}
	if br.concurrency <= 0 {
		br.concurrency = 1
	}

	var bar *progressbar.ProgressBar
	if br.quiet {
		bar = progressbar.DefaultSilent(int64(len(rows)))
	} else {
		bar = progressbar.Default(int64(len(rows)), "appraising")
	}

	records := make([]batchRecord, len(rows))
	var succeeded, failed, leads atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(br.concurrency)

	for i, row := range rows {
		g.Go(func() error {
			defer func() { _ = bar.Add(1) }()
			if err := gctx.Err(); err != nil {
				return err
			}

			rec := batchRecord{Line: row.Line}
			res, err := br.appraise(row)
			if err != nil {
				failed.Add(1)
				rec.Error = err.Error()
				records[i] = rec
				return nil
			}
			succeeded.Add(1)
			rec.Result = res

			if br.store != nil && row.Contact.HasEmail() {
				id, err := br.saveLead(gctx, row, res)
				if err != nil {
					zap.L().Warn("batch: save lead", zap.Int("line", row.Line), zap.Error(err))
				} else {
					leads.Add(1)
					rec.LeadID = id
				}
			}
			records[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return batchStats{}, eris.Wrap(err, "appraise batch")
	}
	_ = bar.Finish()

	stats := batchStats{
		succeeded: succeeded.Load(),
		failed:    failed.Load(),
		leads:     leads.Load(),
	}
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			zap.L().Warn("batch: encode record", zap.Int("line", rec.Line), zap.Error(err))
			if rec.Result != nil {
				stats.succeeded--
				stats.failed++
			}
			line, _ = json.Marshal(batchRecord{Line: rec.Line, LeadID: rec.LeadID, Error: "result could not be encoded"})
		}
		if _, err := out.Write(append(line, '\n')); err != nil {
			return batchStats{}, eris.Wrap(err, "appraise batch: write output")
		}
	}
	return stats, nil
}

func (br batchRunner) appraise(row batchRow) (*appraisal.Result, error) {
	if row.Err != nil {
		return nil, row.Err
	}
	return br.calc.Estimate(row.Input)
}

func (br batchRunner) saveLead(ctx context.Context, row batchRow, res *appraisal.Result) (string, error) {
	lead, err := api.NewLead(row.Contact, row.Input, res)
	if err != nil {
		return "", err
	}
	if err := br.store.CreateLead(ctx, lead); err != nil {
		return "", err
	}
	return lead.ID, nil
}
