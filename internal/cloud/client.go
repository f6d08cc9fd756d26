// Package cloud is the HTTP client for the platform's command API. The
// cloud services themselves are conventional web applications; only their
// boundary is relevant here.
package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"station-bridge/internal/command"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements command.CloudClient against the platform's REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ command.CloudClient = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type pendingCommandDTO struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Params map[string]string `json:"params"`
}

type commandResultDTO struct {
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	ReturnCode int    `json:"return_code"`
	Error      string `json:"error,omitempty"`
}

func (c *Client) GetPendingCommands(stationID string) ([]command.PendingCommand, error) {
	url := fmt.Sprintf("%s/api/v1/stations/%s/commands/pending", c.cfg.BaseURL, stationID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get pending commands: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get pending commands: status %s", resp.Status)
	}

	var dtos []pendingCommandDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decode pending commands: %w", err)
	}
	out := make([]command.PendingCommand, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, command.PendingCommand{ID: d.ID, Type: d.Type, Params: d.Params})
	}
	return out, nil
}

func (c *Client) ReportCommandResult(stationID, commandID string, result command.Result) error {
	body, err := json.Marshal(commandResultDTO{
		Success:    result.Success,
		Output:     result.Output,
		ReturnCode: result.ReturnCode,
		Error:      result.Error,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/v1/stations/%s/commands/%s/result", c.cfg.BaseURL, stationID, commandID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("report result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("report result: status %s", resp.Status)
	}
	return nil
}

func (c *Client) auth(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
