package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/domain/service"
	xhttp "CatalystPull/pkg/http"
	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/util"
)

// Earnings reads Polygon financial filings in a window and looks up company
// details per ticker, one call at a time.
type Earnings struct {
	f *Fetcher
}

func NewEarnings(f *Fetcher) *Earnings {
	return &Earnings{f: f}
}

func (e *Earnings) Name() string { return e.f.Source() }

// DefaultWindow looks ahead: the earnings calendar is about upcoming reports.
func (e *Earnings) DefaultWindow(now time.Time) models.DateRange {
	return models.NextDays(now.UTC(), e.f.Config().WindowDays)
}

type polygonFinancials struct {
	Results []struct {
		Tickers      []string `json:"tickers"`
		CompanyName  string   `json:"company_name"`
		FilingDate   string   `json:"filing_date"`
		EndDate      string   `json:"end_date"`
		FiscalPeriod string   `json:"fiscal_period"`
		FiscalYear   string   `json:"fiscal_year"`
	} `json:"results"`
	NextURL string `json:"next_url"`
}

type polygonTicker struct {
	Results struct {
		Ticker          string   `json:"ticker"`
		Name            string   `json:"name"`
		MarketCap       *float64 `json:"market_cap"`
		SICDescription  string   `json:"sic_description"`
		PrimaryExchange string   `json:"primary_exchange"`
		Locale          string   `json:"locale"`
		Type            string   `json:"type"`
	} `json:"results"`
}

type earningsRow struct {
	ticker, company, period, year string
	date                          time.Time
}

func (e *Earnings) Fetch(ctx context.Context, window models.DateRange) (*service.FetchResult, error) {
	key, err := e.f.APIKey(ctx, false)
	if err != nil {
		return nil, err
	}
	cfg := e.f.Config()
	widened := models.DateRange{}
	if !window.IsZero() {
		widened = models.DateRange{From: window.From, To: window.From.AddDate(0, 0, cfg.FallbackDays)}
	}

	res := &service.FetchResult{}
	var rows []earningsRow
	used, err := e.f.WithFallback(ctx, window, widened, func(ctx context.Context, w models.DateRange) (int, error) {
		var n int
		var ferr error
		*res = service.FetchResult{}
		rows, n, ferr = e.listFinancials(ctx, key, w, res)
		return n, ferr
	})
	res.Window = used
	if err != nil {
		return res, err
	}

	// details are fetched once per ticker, bounded by DetailCap
	seen := map[string]bool{}
	details := 0
	for _, row := range rows {
		if seen[row.ticker] {
			res.Skip(SkipDuplicate)
			continue
		}
		seen[row.ticker] = true
		if cfg.DetailCap > 0 && details >= cfg.DetailCap {
			break
		}
		details++

		var d polygonTicker
		err := e.f.Call(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         strings.TrimRight(cfg.BaseURL, "/") + "/v3/reference/tickers/" + url.PathEscape(row.ticker),
			QueryParams: map[string][]string{"apiKey": {key}},
		}, &d)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			e.f.Logger().Warn("ticker detail lookup failed", applogger.String("ticker", row.ticker), applogger.Error(err))
			res.Skip(SkipDetail)
			continue
		}
		res.Events = append(res.Events, e.toEvent(row, d))
		res.Profiles = append(res.Profiles, models.StockProfile{
			Ticker:    row.ticker,
			Name:      util.FirstNonEmpty(d.Results.Name, row.company),
			Sector:    d.Results.SICDescription,
			MarketCap: d.Results.MarketCap,
		})
	}
	return res, nil
}

func (e *Earnings) listFinancials(ctx context.Context, key string, w models.DateRange, res *service.FetchResult) ([]earningsRow, int, error) {
	cfg := e.f.Config()
	q := map[string][]string{
		"include_sources": {"true"},
		"limit":           {strconv.Itoa(e.f.PageSize(cfg.RecordCap))},
		"apiKey":          {key},
	}
	if w.IsZero() {
		q["order"] = []string{"desc"}
		q["sort"] = []string{"filing_date"}
	} else {
		q["filing_date.gte"] = []string{w.From.Format(time.DateOnly)}
		q["filing_date.lte"] = []string{w.To.Format(time.DateOnly)}
		q["order"] = []string{"asc"}
	}

	var rows []earningsRow
	fetched := 0
	next := strings.TrimRight(cfg.BaseURL, "/") + "/vX/reference/financials"
	for next != "" && fetched < cfg.RecordCap {
		var page polygonFinancials
		if err := e.f.Call(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: next, QueryParams: q}, &page); err != nil {
			return rows, fetched, err
		}
		for _, r := range page.Results {
			if fetched >= cfg.RecordCap {
				break
			}
			fetched++
			res.Fetched++
			if len(r.Tickers) == 0 || r.Tickers[0] == "" {
				res.Skip(SkipMissingTicker)
				continue
			}
			date, ok := util.ParseTime(util.FirstNonEmpty(r.FilingDate, r.EndDate))
			if !ok {
				res.Skip(SkipInvalidDate)
				continue
			}
			rows = append(rows, earningsRow{
				ticker:  strings.ToUpper(r.Tickers[0]),
				company: r.CompanyName,
				period:  r.FiscalPeriod,
				year:    r.FiscalYear,
				date:    date,
			})
		}
		// next_url carries the cursor; only the key has to be added again
		next = page.NextURL
		q = map[string][]string{"apiKey": {key}}
	}
	return rows, fetched, nil
}

func (e *Earnings) toEvent(row earningsRow, d polygonTicker) models.RawEvent {
	name := util.FirstNonEmpty(d.Results.Name, row.company, row.ticker)
	impact := EarningsImpact(d.Results.MarketCap)

	summary := "Quarterly earnings report."
	if row.period != "" || row.year != "" {
		summary = fmt.Sprintf("Quarterly earnings report (%s %s).", row.period, row.year)
	}
	if d.Results.PrimaryExchange != "" {
		summary += fmt.Sprintf(" Company operates in %s exchange, %s market.", d.Results.PrimaryExchange, d.Results.Locale)
	}

	return models.RawEvent{
		Source:     e.Name(),
		Type:       models.TypeEarnings,
		ExternalID: row.ticker + ":" + row.date.Format(time.DateOnly),
		Ticker:     row.ticker,
		Title:      name + " Earnings Report",
		Summary:    summary,
		EventDate:  row.date,
		ImpactHint: &impact,
		HintSized:  true,
		Metadata: models.Metadata{
			Source:    "polygon",
			MarketCap: d.Results.MarketCap,
			Sector:    d.Results.SICDescription,
			Earnings: &models.EarningsDetails{
				FiscalPeriod: row.period,
				FiscalYear:   row.year,
				CompanyName:  name,
			},
		},
	}
}

// EarningsImpact tiers the impact hint by market cap.
func EarningsImpact(marketCap *float64) float64 {
	if marketCap == nil {
		return 0.5
	}
	switch mc := *marketCap; {
	case mc > 500e9:
		return 0.95
	case mc > 100e9:
		return 0.85
	case mc > 10e9:
		return 0.7
	default:
		return 0.5
	}
}
