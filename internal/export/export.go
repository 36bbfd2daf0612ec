// internal/export/export.go
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/portfolio"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options selects which closed trades are exported and where to.
type Options struct {
	Format    Format
	StartTime time.Time
	EndTime   time.Time
	Token     string
	Chain     string
	OnlyWins  bool
	OutputDir string
}

// Summary aggregates an exported set of trades.
type Summary struct {
	portfolio.Performance
	UniqueTokens int                `json:"unique_tokens"`
	AvgPnL       float64            `json:"avg_pnl"`
	PnLByChain   map[string]float64 `json:"pnl_by_chain"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      time.Time          `json:"end_date"`
}

// DailyReport is one day of closed trades with an hourly breakdown.
type DailyReport struct {
	Date            time.Time            `json:"date"`
	TradeCount      int                  `json:"trade_count"`
	Summary         Summary              `json:"summary"`
	HourlyBreakdown []HourlyStats        `json:"hourly_breakdown"`
	Trades          []domain.ClosedTrade `json:"trades"`
}

type HourlyStats struct {
	Hour       int     `json:"hour"`
	TradeCount int     `json:"trade_count"`
	Wins       int     `json:"wins"`
	PnL        float64 `json:"pnl"`
}

// TradeExporter writes closed-trade history to CSV or JSON files.
type TradeExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// ExportTrades writes the trades matching options and returns the file path.
func (te *TradeExporter) ExportTrades(trades []domain.ClosedTrade, options Options) (string, error) {
	filtered := filterTrades(trades, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no trades match the export criteria")
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ExitTime.Before(filtered[j].ExitTime)
	})

	if err := os.MkdirAll(options.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, te.filename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = writeCSV(filtered, outputPath)
	case FormatJSON:
		err = writeJSON(outputPath, struct {
			ExportTime time.Time            `json:"export_time"`
			TradeCount int                  `json:"trade_count"`
			Summary    Summary              `json:"summary"`
			Trades     []domain.ClosedTrade `json:"trades"`
		}{
			ExportTime: te.now().UTC(),
			TradeCount: len(filtered),
			Summary:    Summarize(filtered),
			Trades:     filtered,
		})
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))
	return outputPath, nil
}

// ExportDailyReport writes the trades closed on date's calendar day. It
// returns "" without error when there were none.
func (te *TradeExporter) ExportDailyReport(trades []domain.ClosedTrade, date time.Time, outputDir string) (string, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	filtered := filterTrades(trades, Options{StartTime: start, EndTime: start.Add(24 * time.Hour)})
	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report", zap.Time("date", start))
		return "", nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", start.Format("20060102")))

	report := DailyReport{
		Date:            start,
		TradeCount:      len(filtered),
		Summary:         Summarize(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered),
		Trades:          filtered,
	}
	if err := writeJSON(outputPath, report); err != nil {
		return "", err
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", start),
		zap.Int("trades", len(filtered)))
	return outputPath, nil
}

// filterTrades keeps trades whose exit time falls in [StartTime, EndTime).
func filterTrades(trades []domain.ClosedTrade, options Options) []domain.ClosedTrade {
	var filtered []domain.ClosedTrade
	for _, t := range trades {
		if !options.StartTime.IsZero() && t.ExitTime.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !t.ExitTime.Before(options.EndTime) {
			continue
		}
		if options.Token != "" && t.TokenAddress != options.Token {
			continue
		}
		if options.Chain != "" && t.Chain != options.Chain {
			continue
		}
		if options.OnlyWins && !t.IsWin() {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}

func (te *TradeExporter) filename(options Options) string {
	prefix := "trades_all"
	if options.Chain != "" {
		prefix = "trades_" + options.Chain
	}
	if options.Token != "" {
		prefix += "_" + shortToken(options.Token)
	}
	if options.OnlyWins {
		prefix += "_wins"
	}
	return fmt.Sprintf("%s_%s.%s", prefix, te.now().Format("20060102_150405"), options.Format)
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func writeCSV(trades []domain.ClosedTrade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(portfolio.JournalHeader); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, t := range trades {
		if err := writer.Write(portfolio.JournalRow(t)); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(outputPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

// Summarize extends the ledger's performance figures with export-only
// aggregates. trades must be sorted by exit time.
func Summarize(trades []domain.ClosedTrade) Summary {
	s := Summary{
		Performance: portfolio.Summarize(trades),
		PnLByChain:  make(map[string]float64),
	}
	if len(trades) == 0 {
		return s
	}

	s.StartDate = trades[0].ExitTime
	s.EndDate = trades[len(trades)-1].ExitTime
	tokens := make(map[string]struct{})
	for _, t := range trades {
		tokens[t.TokenAddress] = struct{}{}
		s.PnLByChain[t.Chain] += t.PnL
	}
	s.UniqueTokens = len(tokens)
	s.AvgPnL = s.TotalPnL / float64(len(trades))
	return s
}

func hourlyBreakdown(trades []domain.ClosedTrade) []HourlyStats {
	byHour := make(map[int]*HourlyStats)
	for _, t := range trades {
		hour := t.ExitTime.Hour()
		stats, ok := byHour[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			byHour[hour] = stats
		}
		stats.TradeCount++
		stats.PnL += t.PnL
		if t.IsWin() {
			stats.Wins++
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := byHour[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
