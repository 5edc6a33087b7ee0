package usecase

import (
	"fmt"
	"strings"
	"time"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/service/sources"
	"CatalystPull/pkg/util"

	"github.com/PuerkitoBio/goquery"
)

const (
	// RelatedDamping scales the impact of drafts for related tickers.
	RelatedDamping = 0.6
	// MaxRelated bounds the related-ticker fan-out per event.
	MaxRelated = 2
	// DefaultRelatedMinImpact is the primary impact below which no related drafts are made.
	DefaultRelatedMinImpact = 0.5
)

// Normalizer turns raw events into catalyst drafts.
type Normalizer struct {
	relatedMinImpact float64
}

func NewNormalizer(relatedMinImpact float64) *Normalizer {
	if relatedMinImpact <= 0 {
		relatedMinImpact = DefaultRelatedMinImpact
	}
	return &Normalizer{relatedMinImpact: relatedMinImpact}
}

// Normalize maps ev and its optional entity mapping to one primary draft and up
// to MaxRelated damped drafts for related tickers. An event without a
// resolvable ticker returns ErrEntityUnresolved; one without a date
// returns ErrInvalidCatalyst.
func (n *Normalizer) Normalize(ev models.RawEvent, m *models.EntityMapping) ([]models.Draft, error) {
	ticker := strings.ToUpper(strings.TrimSpace(ev.Ticker))
	if ticker == "" && m != nil {
		ticker = m.PrimaryTicker
	}
	if ticker == "" {
		return nil, fmt.Errorf("%w: %q", models.ErrEntityUnresolved, ev.EntityName)
	}
	if ev.EventDate.IsZero() {
		return nil, fmt.Errorf("%w: missing event date", models.ErrInvalidCatalyst)
	}

	meta := ev.Metadata
	hint := ev.ImpactHint
	if ev.Type == models.TypeRegulatory && meta.Regulatory != nil {
		reg := *meta.Regulatory
		if m != nil {
			reg.DrugClass = m.Category
			if reg.Manufacturer == "" {
				reg.Manufacturer = m.Issuer
			}
		}
		meta.Regulatory = &reg
		if hint == nil {
			h := sources.RegulatoryImpact(reg.DrugClass, reg.Serious)
			hint = &h
		}
	}

	title := CleanText(ev.Title)
	if title == "" {
		title = defaultTitle(ev.Type, ticker)
	}
	desc := CleanText(ev.Summary)
	if desc == "" {
		desc = DefaultDescription(ev.Type, ticker, meta)
	}

	primary := newDraft(ev.Type, ticker, title, desc, ev.EventDate, meta, hint, 1)
	primary.HintSized = ev.HintSized && ev.ImpactHint != nil
	drafts := []models.Draft{primary}

	if m == nil || impactOf(ev.Type, hint) < n.relatedMinImpact {
		return drafts, nil
	}
	related := m.Related()
	if len(related) > MaxRelated {
		related = related[:MaxRelated]
	}
	for _, rt := range related {
		if rt == ticker {
			continue
		}
		rm := meta
		rm.Relationship = "related"
		rm.RelatedTo = ticker
		rm.MarketCap = nil
		rm.Sector = ""
		rdesc := fmt.Sprintf("%s (related to %s via %s)", desc, ticker, relationOf(m))
		drafts = append(drafts, newDraft(ev.Type, rt, "Related: "+title, rdesc, ev.EventDate, rm, hint, RelatedDamping))
	}
	return drafts, nil
}

func newDraft(t models.CatalystType, ticker, title, desc string, at time.Time, meta models.Metadata, hint *float64, damping float64) models.Draft {
	d := models.Draft{Damping: damping, ImpactHint: hint}
	d.Type = t
	d.Ticker = ticker
	d.Title = title
	d.Description = desc
	d.EventDate = models.NormalizeEventDate(at.UTC())
	d.SetMeta(meta)
	return d
}

func impactOf(t models.CatalystType, hint *float64) float64 {
	if hint != nil {
		return *hint
	}
	return BaseRateFor(t).Impact
}

func relationOf(m *models.EntityMapping) string {
	switch {
	case m.Category != "":
		return m.Category
	case m.Issuer != "":
		return m.Issuer
	}
	return m.RawName
}

// CleanText strips markup and collapses whitespace.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

func defaultTitle(t models.CatalystType, ticker string) string {
	switch t {
	case models.TypeRegulatory:
		return ticker + " Regulatory Event"
	case models.TypeEarnings:
		return ticker + " Earnings Report"
	case models.TypeFiling:
		return ticker + " SEC Filing"
	case models.TypeRateDecision:
		return "Federal Reserve Rate Decision"
	}
	return ticker + " Macro Release"
}

// DefaultDescription is the templated description used when a source gives no text.
func DefaultDescription(t models.CatalystType, ticker string, meta models.Metadata) string {
	switch t {
	case models.TypeRegulatory:
		if r := meta.Regulatory; r != nil {
			class := util.FirstNonEmpty(r.DrugClass, "Drug class unknown")
			ind := util.FirstNonEmpty(r.Indication, "Not specified")
			by := util.FirstNonEmpty(r.Manufacturer, "unknown manufacturer")
			if r.Serious {
				return fmt.Sprintf("Serious adverse event reported for %s (%s). Indication: %s. Manufactured by %s.", r.Drug, class, ind, by)
			}
			return fmt.Sprintf("Adverse event reported for %s (%s). Indication: %s. Manufactured by %s.", r.Drug, class, ind, by)
		}
		return fmt.Sprintf("FDA regulatory event for %s. This could significantly impact the stock price based on the decision outcome.", ticker)
	case models.TypeEarnings:
		return fmt.Sprintf("Quarterly earnings report for %s. Market expectations and guidance will drive price movement.", ticker)
	case models.TypeFiling:
		if f := meta.Filing; f != nil {
			return fmt.Sprintf("SEC filing of form %s.", f.FormType)
		}
		return fmt.Sprintf("SEC filing for %s.", ticker)
	case models.TypeRateDecision:
		return "Federal Reserve interest rate decision. This macro event typically impacts all sectors, with particular sensitivity in financials and tech."
	}
	return fmt.Sprintf("Macroeconomic data release that may impact %s and broader market sentiment.", ticker)
}
