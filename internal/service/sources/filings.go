package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/domain/service"
	xhttp "CatalystPull/pkg/http"
	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/util"
)

// Filings queries sec-api.io once per configured form type.
type Filings struct {
	f *Fetcher
}

func NewFilings(f *Fetcher) *Filings {
	return &Filings{f: f}
}

func (s *Filings) Name() string { return s.f.Source() }

func (s *Filings) DefaultWindow(now time.Time) models.DateRange {
	return models.LastDays(now.UTC(), s.f.Config().WindowDays)
}

type secQuery struct {
	Query struct {
		QueryString struct {
			Query string `json:"query"`
		} `json:"query_string"`
	} `json:"query"`
	From string              `json:"from"`
	Size string              `json:"size"`
	Sort []map[string]secOrd `json:"sort"`
}

type secOrd struct {
	Order string `json:"order"`
}

type secResponse struct {
	Filings []secFiling `json:"filings"`
}

type secFiling struct {
	AccessionNo         string `json:"accessionNo"`
	CIK                 string `json:"cik"`
	Ticker              string `json:"ticker"`
	CompanyName         string `json:"companyName"`
	FormType            string `json:"formType"`
	Description         string `json:"description"`
	FiledAt             string `json:"filedAt"`
	LinkToFilingDetails string `json:"linkToFilingDetails"`
	ViewerURL           string `json:"viewerUrl"`
}

// Fetch runs every form type with its own window fallback. A form whose
// requests fail is logged and counted; the run fails only when all forms do.
func (s *Filings) Fetch(ctx context.Context, window models.DateRange) (*service.FetchResult, error) {
	key, err := s.f.APIKey(ctx, false)
	if err != nil {
		return nil, err
	}
	cfg := s.f.Config()
	widened := models.DateRange{}
	if !window.IsZero() {
		widened = models.DateRange{From: window.To.AddDate(0, 0, -cfg.FallbackDays), To: window.To}
	}

	res := &service.FetchResult{Window: window}
	var errs []error
	for _, form := range cfg.Forms {
		var attempt *service.FetchResult
		used, err := s.f.WithFallback(ctx, window, widened, func(ctx context.Context, w models.DateRange) (int, error) {
			attempt = &service.FetchResult{}
			var n int
			var ferr error
			attempt.Events, n, ferr = s.fetchForm(ctx, key, form, w, attempt)
			return n, ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.f.Logger().Error("filing form failed",
				applogger.String("form", form),
				applogger.String("window", used.String()),
				applogger.Error(err),
			)
			res.Skip(SkipUpstream)
			errs = append(errs, fmt.Errorf("form %s: %w", form, err))
			continue
		}
		if attempt != nil {
			res.Add(attempt)
		}
	}
	if len(errs) == len(cfg.Forms) && len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}

func (s *Filings) fetchForm(ctx context.Context, key, form string, w models.DateRange, res *service.FetchResult) ([]models.RawEvent, int, error) {
	cfg := s.f.Config()
	qs := fmt.Sprintf("formType:%q", form)
	if !w.IsZero() {
		qs += fmt.Sprintf(" AND filedAt:[%s TO %s]", w.From.Format(time.DateOnly), w.To.Format(time.DateOnly))
	}

	var events []models.RawEvent
	fetched := 0
	for fetched < cfg.RecordCap {
		size := s.f.PageSize(cfg.RecordCap - fetched)
		var q secQuery
		q.Query.QueryString.Query = qs
		q.From = strconv.Itoa(fetched)
		q.Size = strconv.Itoa(size)
		q.Sort = []map[string]secOrd{{"filedAt": {Order: "desc"}}}

		var page secResponse
		err := s.f.Call(ctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodPost,
			URL:     cfg.BaseURL,
			Headers: map[string]string{"Authorization": key, "Content-Type": "application/json"},
			Body:    q,
		}, &page)
		if err != nil {
			return events, fetched, err
		}
		for _, fl := range page.Filings {
			fetched++
			res.Fetched++
			if ev, reason := s.toEvent(form, fl); reason != "" {
				res.Skip(reason)
			} else {
				events = append(events, ev)
			}
		}
		if len(page.Filings) < size {
			break
		}
	}
	s.f.Logger().Debug("filing form fetched",
		applogger.String("form", form),
		applogger.String("window", w.String()),
		applogger.Int("filings", fetched),
	)
	return events, fetched, nil
}

func (s *Filings) toEvent(form string, fl secFiling) (models.RawEvent, string) {
	ticker := strings.ToUpper(strings.TrimSpace(fl.Ticker))
	if ticker == "" || ticker == "N/A" {
		return models.RawEvent{}, SkipMissingTicker
	}
	filed, ok := util.ParseTime(fl.FiledAt)
	if !ok {
		return models.RawEvent{}, SkipInvalidDate
	}
	if fl.FormType != "" {
		form = fl.FormType
	}

	title, summary := filingText(ticker, form, fl.Description)
	items := FilingItems(fl.Description)
	impact := FilingImpact(form, items)

	return models.RawEvent{
		Source:     s.Name(),
		Type:       models.TypeFiling,
		ExternalID: fl.AccessionNo,
		Ticker:     ticker,
		Title:      title,
		Summary:    summary,
		EventDate:  filed,
		ImpactHint: &impact,
		Metadata: models.Metadata{
			Source: "sec-api",
			Filing: &models.FilingDetails{
				FormType:    form,
				AccessionNo: fl.AccessionNo,
				CIK:         fl.CIK,
				CompanyName: fl.CompanyName,
				FilingURL:   fl.LinkToFilingDetails,
				ViewerURL:   fl.ViewerURL,
				FiledAt:     filed.UTC(),
				Items:       items,
			},
		},
	}, ""
}

var formImpact = map[string]float64{
	"8-K":     0.6,
	"10-K":    0.8,
	"10-Q":    0.7,
	"S-1":     0.95,
	"DEF 14A": 0.5,
}

// highImpactItems are 8-K items that signal a material event.
var highImpactItems = []string{
	"Item 1.01", "Item 1.02", "Item 2.01", "Item 2.04", "Item 2.05",
	"Item 2.06", "Item 5.02", "Item 7.01", "Item 8.01",
}

// FilingItems lists the high-impact 8-K items named in a filing description.
func FilingItems(description string) []string {
	var out []string
	for _, it := range highImpactItems {
		if strings.Contains(description, it) {
			out = append(out, it)
		}
	}
	return out
}

// FilingImpact is the form-type impact hint. A material 8-K item adds 0.2, capped at 0.8.
func FilingImpact(form string, items []string) float64 {
	impact, ok := formImpact[form]
	if !ok {
		impact = 0.4
	}
	if form == "8-K" && len(items) > 0 {
		impact = min(0.8, impact+0.2)
	}
	return impact
}

func filingText(ticker, form, description string) (string, string) {
	switch form {
	case "8-K":
		d := description
		if d == "" {
			d = "Material event or corporate change."
		}
		return ticker + " Files Form 8-K", "Current report filing. " + d
	case "10-K":
		return ticker + " Annual Report (10-K)", "Annual report filing containing comprehensive overview of the company's business."
	case "10-Q":
		return ticker + " Quarterly Report (10-Q)", "Quarterly report with unaudited financial statements."
	case "S-1":
		return ticker + " IPO Registration (S-1)", "Initial public offering registration statement."
	case "DEF 14A":
		return ticker + " Proxy Statement", "Definitive proxy statement for shareholder meeting."
	}
	if description == "" {
		description = "SEC filing of form " + form + "."
	}
	return ticker + " Files Form " + form, description
}
