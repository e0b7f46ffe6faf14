// Package stars reads authorisations and people from the STARS registry API.
package stars

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/registry"

	"github.com/sirupsen/logrus"
)

// Client implements registry.Client over the STARS HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Entry
	now        func() time.Time
}

var _ registry.Client = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Entry) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// CheckCredentials reports whether the client has what it needs to call the API.
func (c *Client) CheckCredentials(context.Context) error {
	if c.baseURL == "" || c.apiKey == "" {
		return fmt.Errorf("stars credentials are not configured: %w", errs.ErrValidation)
	}
	return nil
}

// ListExpiring returns the auths of unitID expiring before the given date.
func (c *Client) ListExpiring(ctx context.Context, unitID string, before time.Time) ([]*registry.Auth, error) {
	params := url.Values{
		"view":      {"Expiring"},
		"trade":     {""},
		"baseDate":  {before.Format("2006-01-02")},
		"orgUnitID": {unitID},
	}
	var resp envelope[authDTO]
	if err := c.get(ctx, "/eng/personnel/auths", params, &resp); err != nil {
		return nil, fmt.Errorf("fetch expiring auths for unit %s: %w", unitID, err)
	}
	auths := toAuths(resp.Data, c.logger)
	c.logger.WithFields(logrus.Fields{"unit_id": unitID, "count": len(auths)}).Info("Retrieved expiring auths")
	return auths, nil
}

// ListCurrent returns the current auths held by one person.
func (c *Client) ListCurrent(ctx context.Context, resourceID string) ([]*registry.Auth, error) {
	params := url.Values{
		"view":     {"Current"},
		"baseDate": {c.now().Format("2006-01-02")},
	}
	var resp envelope[authDTO]
	path := "/eng/personnel/" + url.PathEscape(resourceID) + "/auths"
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch auths for %s: %w", resourceID, err)
	}
	auths := toAuths(resp.Data, c.logger)
	c.logger.WithFields(logrus.Fields{"resource_id": resourceID, "count": len(auths)}).Debug("Retrieved current auths")
	return auths, nil
}

// ResolveRecipient maps a person to the user account that receives their email.
func (c *Client) ResolveRecipient(ctx context.Context, resourceID string) (*registry.Recipient, error) {
	var people envelope[personDTO]
	if err := c.get(ctx, "/person/personnel", url.Values{"ids": {resourceID}}, &people); err != nil {
		return nil, fmt.Errorf("fetch person %s: %w", resourceID, err)
	}
	if len(people.Data) == 0 {
		return nil, fmt.Errorf("person %s: %w", resourceID, errs.ErrNotFound)
	}
	person := people.Data[0]

	var users envelope[userDTO]
	if err := c.get(ctx, "/user/users/", url.Values{"ids": {person.UserID}}, &users); err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", person.UserID, err)
	}
	if len(users.Data) == 0 {
		return nil, fmt.Errorf("user %s for person %s: %w", person.UserID, resourceID, errs.ErrNotFound)
	}
	user := users.Data[0]
	if user.Email == "" {
		return nil, fmt.Errorf("user %s has no email address: %w", user.ID, errs.ErrValidation)
	}

	return &registry.Recipient{
		UserID:     user.ID,
		ResourceID: resourceID,
		Name:       user.Name,
		Email:      user.Email,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, errs.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", errs.ErrTransport, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", errs.ErrTransport, path, err)
	}
	return nil
}
