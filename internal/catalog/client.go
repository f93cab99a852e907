// Package catalog reads menu items and modifier options from the menu
// service. Prices come back as NUMERIC strings and are snapshotted onto
// orders; the catalog is never consulted again after order creation.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type MenuItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Available bool   `json:"available"`
}

type ModifierOption struct {
	ID              string `json:"id"`
	GroupID         string `json:"group_id"`
	Name            string `json:"name"`
	PriceAdjustment string `json:"price_adjustment"`
	Available       bool   `json:"available"`
}

// Source is what the order lifecycle needs from the catalog.
type Source interface {
	FetchMenuItem(ctx context.Context, id string) (*MenuItem, error)
	FetchModifierOption(ctx context.Context, id string) (*ModifierOption, error)
}

var ErrNotFound = fmt.Errorf("catalog item not found")

type Client struct {
	HTTP    *http.Client
	BaseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		BaseURL: baseURL,
	}
}

func (c *Client) FetchMenuItem(ctx context.Context, id string) (*MenuItem, error) {
	var item MenuItem
	if err := c.getJSON(ctx, fmt.Sprintf("%s/menu-items/%s", c.BaseURL, id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) FetchModifierOption(ctx context.Context, id string) (*ModifierOption, error) {
	var opt ModifierOption
	if err := c.getJSON(ctx, fmt.Sprintf("%s/modifier-options/%s", c.BaseURL, id), &opt); err != nil {
		return nil, err
	}
	return &opt, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("catalog service: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog service: %s", res.Status)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
