package models

import "time"

// Credential is an API key for one upstream service.
type Credential struct {
	ID          uint          `gorm:"primaryKey" json:"-"`
	ServiceName string        `gorm:"size:64;not null;uniqueIndex" json:"service_name"`
	APIKey      string        `gorm:"size:512;not null" json:"-"`
	RateLimit   int           `json:"rate_limit,omitempty"`
	RateWindow  time.Duration `json:"rate_window,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Credential) TableName() string { return "api_keys" }

// MinInterval is the spacing between calls implied by RateLimit per RateWindow.
// Zero means the credential imposes no limit.
func (c Credential) MinInterval() time.Duration {
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return 0
	}
	return c.RateWindow / time.Duration(c.RateLimit)
}

// ExpiresWithin reports whether the key expires (or has expired) before now+window.
func (c Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now.Add(window))
}
