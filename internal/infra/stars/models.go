package stars

import (
	"fmt"
	"strings"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/registry"

	"github.com/sirupsen/logrus"
)

type envelope[T any] struct {
	Data []T `json:"data"`
}

type authDTO struct {
	ID            int64  `json:"id"`
	MapID         int64  `json:"mapId"`
	MapName       string `json:"mapName"`
	State         string `json:"state"`
	CurrencyState string `json:"currencyState"`
	ResourceID    string `json:"resourceId"`
	ResourceName  string `json:"resourceName"`
	OrgUnitID     int64  `json:"orgUnitId"`
	OrgUnit       string `json:"orgUnit"`
	Expiry        string `json:"expiry"`
}

type personDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserID    string `json:"userId"`
	OrgUnitID int64  `json:"orgUnitId"`
}

type userDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

var expiryLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// parseExpiry accepts the date forms STARS has been seen to return.
// An empty value means no expiry.
func parseExpiry(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, nil
		}
	}
	return nil, fmt.Errorf("unrecognised expiry date %q: %w", s, errs.ErrValidation)
}

// toAuths maps registry rows to auths. An unreadable expiry is logged and
// treated as missing, so the auth is left out of any batch.
func toAuths(dtos []authDTO, logger *logrus.Entry) []*registry.Auth {
	out := make([]*registry.Auth, 0, len(dtos))
	for _, d := range dtos {
		expiry, err := parseExpiry(d.Expiry)
		if err != nil {
			logger.WithError(err).WithField("auth_id", d.ID).Warn("Dropping unreadable expiry date")
		}
		out = append(out, &registry.Auth{
			ID:            d.ID,
			MapID:         d.MapID,
			MapName:       d.MapName,
			ResourceID:    d.ResourceID,
			ResourceName:  d.ResourceName,
			OrgUnitID:     d.OrgUnitID,
			OrgUnit:       d.OrgUnit,
			State:         d.State,
			CurrencyState: d.CurrencyState,
			Expiry:        expiry,
		})
	}
	return out
}
