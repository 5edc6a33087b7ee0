package sources

import (
	"fmt"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/domain/service"
	"CatalystPull/pkg/config"
)

// New builds the adapter registered under f.Source().
func New(f *Fetcher) (service.SourceAdapter, error) {
	switch f.Source() {
	case config.SourceRegulatory:
		return NewRegulatory(f), nil
	case config.SourceFilings:
		return NewFilings(f), nil
	case config.SourceEarnings:
		return NewEarnings(f), nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrUnknownSource, f.Source())
}
