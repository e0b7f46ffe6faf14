// internal/domain/registry/auth.go
package registry

import "time"

// Auth is one authorisation instance read from the STARS registry.
// Expiry is nil when the registry has no expiry recorded for it.
type Auth struct {
	ID            int64      `json:"id"`
	MapID         int64      `json:"map_id"`   // owning authorisation map (group)
	MapName       string     `json:"map_name"` // human label
	ResourceID    string     `json:"resource_id"`
	ResourceName  string     `json:"resource_name"`
	OrgUnitID     int64      `json:"org_unit_id"`
	OrgUnit       string     `json:"org_unit,omitempty"`
	State         string     `json:"state,omitempty"`
	CurrencyState string     `json:"currency_state,omitempty"`
	Expiry        *time.Time `json:"expiry,omitempty"`
}

// HasExpiry reports whether the registry supplied an expiry date.
func (a *Auth) HasExpiry() bool {
	return a != nil && a.Expiry != nil && !a.Expiry.IsZero()
}

// Recipient is the person an expiry email is addressed to.
// UserID is the stable key used for batch lookups.
type Recipient struct {
	UserID     string `json:"user_id"`
	ResourceID string `json:"resource_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}
