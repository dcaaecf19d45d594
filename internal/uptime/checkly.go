package uptime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const checklyAPIURL = "https://api.checklyhq.com/v1"

// ChecklyClient talks to the Checkly v1 API. Unlike UptimeRobot it is plain
// REST: bearer key plus an account header on every request.
type ChecklyClient struct {
	apiKey    string
	accountID string
	baseURL   string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
}

func NewChecklyClient(apiKey, accountID string) *ChecklyClient {
	return &ChecklyClient{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   checklyAPIURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		breaker:   newBreaker("checkly"),
	}
}

// ChecklyCheck is one check as the API returns it.
type ChecklyCheck struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CheckType string `json:"checkType"` // API, BROWSER, HEARTBEAT
	Activated bool   `json:"activated"`
	Muted     bool   `json:"muted"`
	Frequency int    `json:"frequency"` // minutes

	Request *ChecklyRequest `json:"request,omitempty"`
}

// ChecklyRequest carries the probed URL for API checks.
type ChecklyRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// ChecklyStatus is the rolled-up state of one check over a window.
type ChecklyStatus struct {
	CheckID         string
	HasFailures     bool
	HasErrors       bool
	IsDegraded      bool
	AvgResponseTime int
	Uptime          float64 // percent
}

// ValidateCredentials confirms the key and account id can list checks.
func (c *ChecklyClient) ValidateCredentials(ctx context.Context) error {
	_, err := c.get(ctx, "/checks?limit=1")
	return err
}

// GetChecks fetches every check, following the API's page pagination.
func (c *ChecklyClient) GetChecks(ctx context.Context) ([]ChecklyCheck, error) {
	var all []ChecklyCheck
	page, limit := 1, 100

	for {
		body, err := c.get(ctx, fmt.Sprintf("/checks?page=%d&limit=%d", page, limit))
		if err != nil {
			return nil, err
		}

		var checks []ChecklyCheck
		if err := json.Unmarshal(body, &checks); err != nil {
			return nil, fmt.Errorf("checkly: parsing response: %w", err)
		}

		all = append(all, checks...)
		if len(checks) < limit {
			break
		}
		page++
	}

	return all, nil
}

// GetCheckStatistics fetches a check's aggregated status over [from, to).
// The success ratio comes back as a fraction and is stored as a percentage.
func (c *ChecklyClient) GetCheckStatistics(ctx context.Context, checkID string, from, to time.Time) (*ChecklyStatus, error) {
	endpoint := fmt.Sprintf("/check-statuses/%s?from=%d&to=%d",
		checkID, from.UnixMilli(), to.UnixMilli())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var stats []struct {
		CheckID      string  `json:"checkId"`
		HasFailures  bool    `json:"hasFailures"`
		HasErrors    bool    `json:"hasErrors"`
		IsDegraded   bool    `json:"isDegraded"`
		Avg          int     `json:"avg"`
		SuccessRatio float64 `json:"successRatio"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("checkly: parsing statistics: %w", err)
	}

	status := &ChecklyStatus{CheckID: checkID}
	if len(stats) > 0 {
		s := stats[0]
		status.HasFailures = s.HasFailures
		status.HasErrors = s.HasErrors
		status.IsDegraded = s.IsDegraded
		status.AvgResponseTime = s.Avg
		status.Uptime = s.SuccessRatio * 100
	}
	return status, nil
}

func (c *ChecklyClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("checkly: building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-Checkly-Account", c.accountID)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("checkly: calling api: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("checkly: reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("checkly: unexpected status %d", resp.StatusCode)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

// ChecklyMonitorStatus maps a check plus its window status onto a stored
// status. Muted checks count as paused; their results should not page.
func ChecklyMonitorStatus(check ChecklyCheck, status *ChecklyStatus) string {
	if !check.Activated || check.Muted {
		return StatusPaused
	}
	if status.HasErrors || status.HasFailures {
		return StatusDown
	}
	if status.IsDegraded {
		return StatusDegraded
	}
	return StatusUp
}

// ChecklyMonitorType maps a Checkly check type onto a stored type.
func ChecklyMonitorType(checkType string) string {
	switch checkType {
	case "API":
		return "http"
	case "BROWSER":
		return "browser"
	case "HEARTBEAT":
		return "heartbeat"
	default:
		return "unknown"
	}
}
