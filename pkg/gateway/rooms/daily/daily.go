package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots"
)

const (
	DefaultBaseURL = "https://api.daily.co/v1"
	DefaultExpiry  = time.Hour
)

type Config struct {
	APIKey  string
	BaseURL string
	// SampleRoomURL pins every session to one existing room instead of
	// creating a fresh room per call.
	SampleRoomURL string
	Expiry        time.Duration
}

// Client provisions rooms and meeting tokens through the Daily REST API.
// It is safe for concurrent use; the http.Client is shared.
type Client struct {
	apiKey        string
	baseURL       string
	sampleRoomURL string
	expiry        time.Duration
	httpClient    *http.Client
	now           func() time.Time
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Client{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		baseURL:       strings.TrimRight(baseURL, "/"),
		sampleRoomURL: strings.TrimSpace(cfg.SampleRoomURL),
		expiry:        expiry,
		httpClient:    httpClient,
		now:           time.Now,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Provision returns a room plus an owner token for it. Not idempotent: each
// call without a sample room creates a new room on Daily.
func (c *Client) Provision(ctx context.Context) (bots.Room, error) {
	if !c.Configured() {
		return bots.Room{}, &bots.ProvisioningError{Stage: bots.StageRoom, Err: errors.New("daily api key is not configured")}
	}

	var (
		room bots.Room
		err  error
	)
	if c.sampleRoomURL != "" {
		room, err = c.getRoom(ctx, roomNameFromURL(c.sampleRoomURL))
	} else {
		room, err = c.createRoom(ctx)
	}
	if err != nil {
		return bots.Room{}, &bots.ProvisioningError{Stage: bots.StageRoom, Err: err}
	}

	token, err := c.createToken(ctx, room.Name)
	if err != nil {
		return bots.Room{}, &bots.ProvisioningError{Stage: bots.StageCredential, Err: err}
	}
	room.Token = token
	return room, nil
}

type roomResponse struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

func (r roomResponse) toRoom() (bots.Room, error) {
	if strings.TrimSpace(r.URL) == "" || strings.TrimSpace(r.Name) == "" {
		return bots.Room{}, errors.New("room response missing name or url")
	}
	room := bots.Room{Name: r.Name, URL: r.URL}
	if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		room.CreatedAt = t
	}
	return room, nil
}

func (c *Client) createRoom(ctx context.Context) (bots.Room, error) {
	exp := c.now().Add(c.expiry).Unix()
	var decoded roomResponse
	err := c.do(ctx, http.MethodPost, "/rooms", map[string]any{
		"properties": map[string]any{
			"exp":               exp,
			"eject_at_room_exp": true,
		},
	}, &decoded)
	if err != nil {
		return bots.Room{}, fmt.Errorf("create room: %w", err)
	}
	room, err := decoded.toRoom()
	if err != nil {
		return bots.Room{}, fmt.Errorf("create room: %w", err)
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = c.now()
	}
	return room, nil
}

func (c *Client) getRoom(ctx context.Context, name string) (bots.Room, error) {
	if name == "" {
		return bots.Room{}, fmt.Errorf("invalid sample room url %q", c.sampleRoomURL)
	}
	var decoded roomResponse
	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(name), nil, &decoded); err != nil {
		return bots.Room{}, fmt.Errorf("get room %s: %w", name, err)
	}
	return decoded.toRoom()
}

func (c *Client) createToken(ctx context.Context, roomName string) (string, error) {
	exp := c.now().Add(c.expiry).Unix()
	var decoded struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/meeting-tokens", map[string]any{
		"properties": map[string]any{
			"room_name": roomName,
			"is_owner":  true,
			"exp":       exp,
		},
	}, &decoded)
	if err != nil {
		return "", fmt.Errorf("create meeting token: %w", err)
	}
	if strings.TrimSpace(decoded.Token) == "" {
		return "", errors.New("create meeting token: empty token in response")
	}
	return decoded.Token, nil
}

func (c *Client) do(ctx context.Context, method, p string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return fmt.Errorf("daily error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func roomNameFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
