package uptime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const uptimeRobotAPIURL = "https://api.uptimerobot.com/v2"

// UptimeRobotClient talks to the UptimeRobot v2 API. The API is form-encoded
// POST throughout, with the key in the body rather than a header.
type UptimeRobotClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewUptimeRobotClient(apiKey string) *UptimeRobotClient {
	return &UptimeRobotClient{
		apiKey:  apiKey,
		baseURL: uptimeRobotAPIURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: newBreaker("uptimerobot"),
	}
}

// UptimeRobotMonitor is one monitor as the API returns it.
type UptimeRobotMonitor struct {
	ID           int64       `json:"id"`
	FriendlyName string      `json:"friendly_name"`
	URL          string      `json:"url"`
	Type         int         `json:"type"`   // 1=http, 2=keyword, 3=ping, 4=port, 5=heartbeat
	Status       int         `json:"status"` // 0=paused, 1=not checked, 2=up, 8=seems down, 9=down
	Interval     int         `json:"interval"`
	ResponseTime json.Number `json:"average_response_time,omitempty"`

	// "1d-7d-30d" when custom_uptime_ratios=1-7-30 was requested.
	CustomUptimeRanges string `json:"custom_uptime_ranges,omitempty"`
}

type uptimeRobotError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type uptimeRobotEnvelope struct {
	Stat       string               `json:"stat"` // "ok" or "fail"
	Error      *uptimeRobotError    `json:"error,omitempty"`
	Monitors   []UptimeRobotMonitor `json:"monitors,omitempty"`
	Pagination struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
		Total  int `json:"total"`
	} `json:"pagination"`
}

// UptimeRobotAccount identifies the account behind an API key.
type UptimeRobotAccount struct {
	Email          string `json:"email"`
	MonitorLimit   int    `json:"monitor_limit"`
	UpMonitors     int    `json:"up_monitors"`
	DownMonitors   int    `json:"down_monitors"`
	PausedMonitors int    `json:"paused_monitors"`
}

// GetAccountDetails verifies the API key by fetching account information.
func (c *UptimeRobotClient) GetAccountDetails(ctx context.Context) (*UptimeRobotAccount, error) {
	data := url.Values{}
	data.Set("api_key", c.apiKey)
	data.Set("format", "json")

	body, err := c.postForm(ctx, "/getAccountDetails", data)
	if err != nil {
		return nil, err
	}

	var result struct {
		Stat    string             `json:"stat"`
		Error   *uptimeRobotError  `json:"error,omitempty"`
		Account UptimeRobotAccount `json:"account"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("uptimerobot: parsing response: %w", err)
	}
	if result.Stat != "ok" {
		return nil, apiError(result.Error)
	}
	return &result.Account, nil
}

// GetMonitors fetches every monitor, following the API's offset pagination
// and requesting 1/7/30-day uptime ratios alongside.
func (c *UptimeRobotClient) GetMonitors(ctx context.Context) ([]UptimeRobotMonitor, error) {
	var all []UptimeRobotMonitor
	offset, limit := 0, 50

	for {
		data := url.Values{}
		data.Set("api_key", c.apiKey)
		data.Set("format", "json")
		data.Set("offset", strconv.Itoa(offset))
		data.Set("limit", strconv.Itoa(limit))
		data.Set("response_times", "1")
		data.Set("response_times_limit", "1")
		data.Set("custom_uptime_ratios", "1-7-30")

		body, err := c.postForm(ctx, "/getMonitors", data)
		if err != nil {
			return nil, err
		}

		var result uptimeRobotEnvelope
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("uptimerobot: parsing response: %w", err)
		}
		if result.Stat != "ok" {
			return nil, apiError(result.Error)
		}

		all = append(all, result.Monitors...)
		if offset+limit >= result.Pagination.Total {
			break
		}
		offset += limit
	}

	return all, nil
}

func (c *UptimeRobotClient) postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, error) {
	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(data.Encode()))
		if err != nil {
			return nil, fmt.Errorf("uptimerobot: building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("uptimerobot: calling api: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("uptimerobot: reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("uptimerobot: unexpected status %d", resp.StatusCode)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

func apiError(e *uptimeRobotError) error {
	if e != nil {
		return fmt.Errorf("uptimerobot: api error: %s", e.Message)
	}
	return fmt.Errorf("uptimerobot: api returned error status")
}

// RobotStatus maps UptimeRobot status codes onto stored statuses.
func RobotStatus(status int) string {
	switch status {
	case 0:
		return StatusPaused
	case 1:
		return StatusUnknown
	case 2:
		return StatusUp
	case 8:
		return StatusDegraded
	case 9:
		return StatusDown
	default:
		return StatusUnknown
	}
}

// RobotMonitorType maps UptimeRobot monitor type codes onto stored types.
func RobotMonitorType(monitorType int) string {
	switch monitorType {
	case 1:
		return "http"
	case 2:
		return "keyword"
	case 3:
		return "ping"
	case 4:
		return "port"
	case 5:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// ParseUptimeRatios parses the "1d-7d-30d" ratio string returned when
// custom_uptime_ratios=1-7-30 is requested. Missing segments stay zero.
func ParseUptimeRatios(ratios string) (day1, day7, day30 float64) {
	parts := strings.Split(ratios, "-")
	if len(parts) >= 1 {
		day1, _ = strconv.ParseFloat(parts[0], 64)
	}
	if len(parts) >= 2 {
		day7, _ = strconv.ParseFloat(parts[1], 64)
	}
	if len(parts) >= 3 {
		day30, _ = strconv.ParseFloat(parts[2], 64)
	}
	return day1, day7, day30
}
