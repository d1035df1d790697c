// internal/sonar/client.go
package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "repo-cadence-collector/internal/errors"
	"repo-cadence-collector/internal/model"
)

// DefaultMetricKeys are the measures requested for every analyzed project.
var DefaultMetricKeys = []string{
	"bugs",
	"vulnerabilities",
	"code_smells",
	"sqale_index",
	"ncloc",
	"complexity",
	"cognitive_complexity",
	"coverage",
	"duplicated_lines_density",
	"reliability_rating",
	"security_rating",
	"sqale_rating",
	"alert_status",
}

// metricKinds maps each measure key to the variant it decodes into.
// Keys ending in _rating are handled separately.
var metricKinds = map[string]model.MetricKind{
	"bugs":                     model.MetricInteger,
	"vulnerabilities":          model.MetricInteger,
	"code_smells":              model.MetricInteger,
	"sqale_index":              model.MetricInteger,
	"ncloc":                    model.MetricInteger,
	"complexity":               model.MetricInteger,
	"cognitive_complexity":     model.MetricInteger,
	"coverage":                 model.MetricPercentage,
	"duplicated_lines_density": model.MetricPercentage,
	"alert_status":             model.MetricStatus,
}

// Client talks to the SonarQube web API. The user token is sent as the
// basic-auth username with an empty password, matching how the server
// expects token authentication.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(host, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(host, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.token, "")
	return c.http.Do(req)
}

// EnsureProject creates the project if it does not exist yet. A 400 response
// naming an existing key is not an error.
func (c *Client) EnsureProject(ctx context.Context, key, name string) error {
	query := url.Values{"project": {key}, "name": {name}}
	resp, err := c.do(ctx, http.MethodPost, "/api/projects/create", query)
	if err != nil {
		return &apperrors.ScannerError{ProjectKey: key, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		body, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(body), "already exists") {
			return nil
		}
		return &apperrors.ScannerError{ProjectKey: key, Err: fmt.Errorf("create project: %s", body)}
	default:
		return &apperrors.ScannerError{ProjectKey: key, Err: fmt.Errorf("create project: unexpected status %d", resp.StatusCode)}
	}
}

// Measures fetches the current measures for a project. A 404, or a 200 whose
// component carries no measures yet, means the analysis has not landed and
// yields (nil, nil) so callers can poll. The component exists from the moment
// the project is provisioned, well before the server computes results, so an
// empty measure list must never count as a finished analysis.
func (c *Client) Measures(ctx context.Context, projectKey string) (map[string]model.MetricValue, error) {
	query := url.Values{
		"component":  {projectKey},
		"metricKeys": {strings.Join(DefaultMetricKeys, ",")},
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/measures/component", query)
	if err != nil {
		return nil, &apperrors.ScannerError{ProjectKey: projectKey, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperrors.ScannerError{ProjectKey: projectKey, Err: fmt.Errorf("measures: unexpected status %d", resp.StatusCode)}
	}

	var payload struct {
		Component struct {
			Measures []struct {
				Metric string `json:"metric"`
				Value  string `json:"value"`
			} `json:"measures"`
		} `json:"component"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &apperrors.ScannerError{ProjectKey: projectKey, Err: fmt.Errorf("measures: decode: %w", err)}
	}

	metrics := make(map[string]model.MetricValue, len(payload.Component.Measures))
	for _, m := range payload.Component.Measures {
		value, err := convertMetric(m.Metric, m.Value)
		if err != nil {
			c.logger.Warn("skipping unparseable measure",
				slog.String("project", projectKey),
				slog.String("metric", m.Metric),
				slog.String("value", m.Value))
			continue
		}
		metrics[m.Metric] = value
	}
	if len(metrics) == 0 {
		return nil, nil
	}
	return metrics, nil
}

// PollMeasures repeatedly queries Measures until the analysis is visible or
// the timeout elapses.
func (c *Client) PollMeasures(ctx context.Context, projectKey string, interval, timeout time.Duration) (map[string]model.MetricValue, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		metrics, err := c.Measures(ctx, projectKey)
		if err != nil {
			return nil, err
		}
		if metrics != nil {
			return metrics, nil
		}
		if time.Now().After(deadline) {
			return nil, &apperrors.ScannerError{ProjectKey: projectKey, Err: fmt.Errorf("measures not available after %s", timeout)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func convertMetric(key, raw string) (model.MetricValue, error) {
	if strings.HasSuffix(key, "_rating") {
		rating, err := parseRating(raw)
		if err != nil {
			return model.MetricValue{}, err
		}
		return model.RatingMetric(rating), nil
	}

	switch metricKinds[key] {
	case model.MetricPercentage:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.MetricValue{}, err
		}
		return model.PercentMetric(f), nil
	case model.MetricStatus:
		return model.StatusMetric(raw), nil
	default:
		// Integer measures arrive as plain or float-formatted numerals.
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.MetricValue{}, err
		}
		return model.IntMetric(int64(f)), nil
	}
}

func parseRating(raw string) (model.Rating, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", err
	}
	switch int(f) {
	case 1:
		return model.RatingA, nil
	case 2:
		return model.RatingB, nil
	case 3:
		return model.RatingC, nil
	case 4:
		return model.RatingD, nil
	case 5:
		return model.RatingE, nil
	default:
		return "", fmt.Errorf("rating out of range: %q", raw)
	}
}
