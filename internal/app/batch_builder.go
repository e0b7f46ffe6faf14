package app

import (
	"fmt"
	"sort"
	"time"

	"auth_expiry_notifier/internal/domain/notification"
	"auth_expiry_notifier/internal/domain/registry"
)

// BuildBatch turns a recipient's auths into a pending batch. Auths without an
// expiry date are left out. Returns nil when nothing is left to send.
//
// The batch is CategoryExpired when any included auth expired strictly before
// evaluationDate, otherwise CategoryExpiringSoon.
func BuildBatch(recipient *registry.Recipient, auths []*registry.Auth, evaluationDate time.Time) *notification.Batch {
	summaries := make([]notification.AuthSummary, 0, len(auths))
	for _, a := range auths {
		if !a.HasExpiry() {
			continue
		}
		summaries = append(summaries, notification.AuthSummary{
			AuthID:     a.ID,
			MapID:      a.MapID,
			AuthName:   a.MapName,
			ExpiryDate: dateOf(*a.Expiry),
		})
	}
	if len(summaries) == 0 {
		return nil
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].ExpiryDate.Before(summaries[j].ExpiryDate)
	})

	category := notification.CategoryExpiringSoon
	if summaries[0].ExpiryDate.Before(dateOf(evaluationDate)) {
		category = notification.CategoryExpired
	}

	resourceID := recipient.ResourceID
	resourceName := recipient.Name
	if len(auths) > 0 {
		if auths[0].ResourceID != "" {
			resourceID = auths[0].ResourceID
		}
		if auths[0].ResourceName != "" {
			resourceName = auths[0].ResourceName
		}
	}

	return &notification.Batch{
		UserID:       recipient.UserID,
		UserEmail:    recipient.Email,
		ResourceID:   resourceID,
		ResourceName: resourceName,
		Category:     category,
		Subject:      Subject(category, len(summaries)),
		Status:       notification.StatusPending,
		Auths:        summaries,
	}
}

// Subject renders the email subject for a batch of count auths.
func Subject(category notification.Category, count int) string {
	noun := "auths"
	if count == 1 {
		noun = "auth"
	}
	if category == notification.CategoryExpired {
		return fmt.Sprintf("STARS Authorisations Expired - Urgent Action Required (%d %s)", count, noun)
	}
	return fmt.Sprintf("STARS Authorisations Expiring Soon - Action Required (%d %s)", count, noun)
}

// dateOf drops the clock part of t, keeping its calendar date in UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
