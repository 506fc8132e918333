package barapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-tables/internal/redisx"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

const (
	PathTables        = "/bar-tables/date-time"
	PathDrinks        = "/drinks"
	PathMenus         = "/menus"
	PathBookTableOnly = "/booking-only-table"
	PathBookDrinks    = "/booking-table-with-drink"
	PathBookMenu      = "/booking-table-with-menu"

	catalogPageSize = 100
)

// StatusError is a non-success answer from the backend, either an HTTP
// status or an envelope code other than 200.
type StatusError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bar api: http %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("bar api: http %d code %d", e.HTTPStatus, e.Code)
}

var ErrEmptyResponse = errors.New("bar api: empty data")

// Client calls the bar backend REST API. GET catalog reads are optionally
// cached in redis.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache enables caching of drinks and menus.
func (c *Client) UseRedisCache(rdb *redis.Client, ttl time.Duration) {
	c.redis = rdb
	c.cacheTTL = ttl
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Tables returns the availability of every table for a slot.
func (c *Client) Tables(ctx context.Context, slot tables.Slot) ([]tables.Table, error) {
	q := url.Values{}
	q.Set("booking-date", slot.DateParam())
	q.Set("booking-time", slot.TimeParam())
	var out []tables.Table
	if err := c.doGet(ctx, PathTables+"?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("list tables %s: %w", slot, err)
	}
	return out, nil
}

type page[T any] struct {
	Content []T `json:"content"`
}

func (c *Client) Drinks(ctx context.Context) ([]tables.Drink, error) {
	return catalog[tables.Drink](ctx, c, "drinks", PathDrinks)
}

func (c *Client) Menus(ctx context.Context) ([]tables.Menu, error) {
	return catalog[tables.Menu](ctx, c, "menus", PathMenus)
}

func catalog[T any](ctx context.Context, c *Client, name, path string) ([]T, error) {
	key := fmt.Sprintf(redisx.KeyCatalog, name)
	var items []T
	if c.readCache(ctx, key, &items) {
		return items, nil
	}

	q := url.Values{}
	q.Set("pageIndex", "0")
	q.Set("pageSize", fmt.Sprint(catalogPageSize))
	var raw json.RawMessage
	if err := c.doGet(ctx, path+"?"+q.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	// data is either a page {content:[...]} or a bare list
	var p page[T]
	if err := json.Unmarshal(raw, &p); err == nil && p.Content != nil {
		items = p.Content
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	c.writeCache(ctx, key, items)
	return items, nil
}

// DrinkLine is one drink of a booking.
type DrinkLine struct {
	DrinkID  string `json:"drinkId" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

// BookingRequest is the body of all three booking endpoints. Drinks is only
// sent to the drink endpoint, MenuID only to the menu one.
type BookingRequest struct {
	BarName        string      `json:"barName"`
	BookingDate    string      `json:"bookingDate"`
	BookingTime    string      `json:"bookingTime"`
	Note           string      `json:"note"`
	TotalPrice     float64     `json:"totalPrice"`
	NumberOfPeople int         `json:"numberOfPeople"`
	TableIDs       []string    `json:"tableIds"`
	Drinks         []DrinkLine `json:"drinks,omitempty"`
	MenuID         string      `json:"menuId,omitempty"`
}

type bookingResult struct {
	PaymentLink string `json:"paymentLink"`
}

// Book posts req to path and returns the payment link, which may be empty.
func (c *Client) Book(ctx context.Context, path string, req BookingRequest) (string, error) {
	var res bookingResult
	err := c.doPost(ctx, path, req, &res)
	if errors.Is(err, ErrEmptyResponse) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("submit booking %s: %w", path, err)
	}
	return res.PaymentLink, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= 300 {
		return &StatusError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if decErr != nil {
		return fmt.Errorf("decode response: %w", decErr)
	}
	if env.Code != 0 && env.Code != tables.CodeOK {
		return &StatusError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrEmptyResponse
	}
	return json.Unmarshal(env.Data, out)
}
