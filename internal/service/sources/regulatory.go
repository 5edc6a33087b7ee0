package sources

import (
	"context"
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

// Regulatory reads serious adverse event reports from openFDA. Each drug of a
// report becomes one RawEvent named by the drug; the ticker is resolved later.
type Regulatory struct {
	f *Fetcher
}

func NewRegulatory(f *Fetcher) *Regulatory {
	return &Regulatory{f: f}
}

func (r *Regulatory) Name() string { return r.f.Source() }

func (r *Regulatory) DefaultWindow(now time.Time) models.DateRange {
	return models.LastDays(now.UTC(), r.f.Config().WindowDays)
}

type fdaResponse struct {
	Results []fdaReport `json:"results"`
}

type fdaReport struct {
	SafetyReportID string `json:"safetyreportid"`
	ReceiveDate    string `json:"receivedate"`
	Serious        string `json:"serious"`
	Patient        struct {
		Drug []fdaDrug `json:"drug"`
	} `json:"patient"`
}

type fdaDrug struct {
	MedicinalProduct string `json:"medicinalproduct"`
	DrugIndication   string `json:"drugindication"`
	OpenFDA          struct {
		ManufacturerName []string `json:"manufacturer_name"`
	} `json:"openfda"`
}

func (r *Regulatory) Fetch(ctx context.Context, window models.DateRange) (*service.FetchResult, error) {
	key, err := r.f.APIKey(ctx, true)
	if err != nil {
		return nil, err
	}

	cfg := r.f.Config()
	widened := models.DateRange{}
	if !window.IsZero() {
		widened = models.DateRange{From: window.To.AddDate(0, 0, -cfg.FallbackDays), To: window.To}
	}

	res := &service.FetchResult{}
	used, err := r.f.WithFallback(ctx, window, widened, func(ctx context.Context, w models.DateRange) (int, error) {
		*res = service.FetchResult{}
		return r.fetchWindow(ctx, key, w, res)
	})
	res.Window = used
	if err != nil {
		return res, err
	}
	return res, nil
}

func (r *Regulatory) fetchWindow(ctx context.Context, key string, w models.DateRange, res *service.FetchResult) (int, error) {
	cfg := r.f.Config()
	search := "serious:1"
	if !w.IsZero() {
		search = fmt.Sprintf("receivedate:[%s TO %s] AND serious:1", util.CompactDate(w.From), util.CompactDate(w.To))
	}

	for skip := 0; res.Fetched < cfg.RecordCap; {
		limit := r.f.PageSize(cfg.RecordCap - res.Fetched)
		q := map[string][]string{
			"search": {search},
			"limit":  {strconv.Itoa(limit)},
		}
		if skip > 0 {
			q["skip"] = []string{strconv.Itoa(skip)}
		}
		if w.IsZero() {
			q["sort"] = []string{"receivedate:desc"}
		}
		if key != "" {
			q["api_key"] = []string{key}
		}

		var page fdaResponse
		err := r.f.Call(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         strings.TrimRight(cfg.BaseURL, "/") + "/drug/event.json",
			QueryParams: q,
		}, &page)
		if err != nil {
			if res.Fetched > 0 && IsNotFound(err) {
				break
			}
			return res.Fetched, err
		}

		for _, rep := range page.Results {
			res.Fetched++
			r.collect(rep, res)
		}
		if len(page.Results) < limit {
			break
		}
		skip += len(page.Results)
	}

	r.f.Logger().Info("regulatory window fetched",
		applogger.String("window", w.String()),
		applogger.Int("reports", res.Fetched),
		applogger.Int("events", len(res.Events)),
	)
	return res.Fetched, nil
}

func (r *Regulatory) collect(rep fdaReport, res *service.FetchResult) {
	date, err := time.Parse(util.CompactDateLayout, rep.ReceiveDate)
	if err != nil {
		res.Skip(SkipInvalidDate)
		return
	}
	seen := map[string]bool{}
	for _, d := range rep.Patient.Drug {
		name := strings.ToUpper(strings.TrimSpace(d.MedicinalProduct))
		if name == "" {
			res.Skip(SkipMissingEntity)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		manufacturer := ""
		if len(d.OpenFDA.ManufacturerName) > 0 {
			manufacturer = d.OpenFDA.ManufacturerName[0]
		}
		res.Events = append(res.Events, models.RawEvent{
			Source:     r.Name(),
			Type:       models.TypeRegulatory,
			ExternalID: rep.SafetyReportID + ":" + name,
			EntityName: name,
			Title:      "FDA Adverse Event Report: " + strings.TrimSpace(d.MedicinalProduct),
			EventDate:  date,
			Metadata: models.Metadata{
				Source: "openfda",
				Regulatory: &models.RegulatoryDetails{
					Drug:         strings.TrimSpace(d.MedicinalProduct),
					Manufacturer: manufacturer,
					Serious:      rep.Serious == "1",
					Indication:   d.DrugIndication,
					ReportID:     rep.SafetyReportID,
				},
			},
		})
	}
}

// RegulatoryImpact is the impact hint for an adverse event: oncology and
// inhibitor classes start higher and a serious report adds 0.2, capped at 0.8.
func RegulatoryImpact(drugClass string, serious bool) float64 {
	impact := 0.3
	class := strings.ToLower(drugClass)
	if strings.Contains(class, "inhibitor") || strings.Contains(class, "cancer") {
		impact = 0.5
	}
	if serious {
		impact = min(0.8, impact+0.2)
	}
	return impact
}
