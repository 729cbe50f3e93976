package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// Loki retrieves analytics counts from the "Analytics: <event>" log lines shipped to a Loki instance.
type Loki interface {
	// GetPlays24 retrieves the number of successful plays in the last 24 hours.
	GetPlays24() (int, error)
	// GetSearches24 retrieves the number of searches in the last 24 hours.
	GetSearches24() (int, error)
}

type webstreamLoki struct {
	httpClient  *http.Client
	lokiHost    string
	serviceName string
}

// NewLoki creates a Loki client querying the logs of serviceName.
func NewLoki(lokiHost, serviceName string) Loki {
	return &webstreamLoki{
		httpClient: &http.Client{
			Timeout:   time.Second * 30,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		lokiHost:    lokiHost,
		serviceName: serviceName,
	}
}

// GetPlays24 retrieves the number of successful plays in the last 24 hours.
func (s *webstreamLoki) GetPlays24() (int, error) {
	return s.countEvents("play_success")
}

// GetSearches24 retrieves the number of searches in the last 24 hours.
func (s *webstreamLoki) GetSearches24() (int, error) {
	return s.countEvents("search")
}

func (s *webstreamLoki) countEvents(event string) (int, error) {
	ctx, span := otel.Tracer("").Start(context.Background(), "loki.Loki.countEvents")
	defer span.End()

	query := fmt.Sprintf("sum(count_over_time({service_name=%q} |= `Analytics: %s` [24h]))", s.serviceName, event)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.lokiHost+"/loki/api/v1/query", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to http.NewRequest: %w", err)
	}

	q := req.URL.Query()
	q.Add("query", query)
	req.URL.RawQuery = q.Encode()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("loki response status code: %d", resp.StatusCode)
	}

	var lokiResp LokiResponse
	if err := json.NewDecoder(resp.Body).Decode(&lokiResp); err != nil {
		return 0, fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}

	if lokiResp.Status != "success" {
		return 0, fmt.Errorf("loki response status: %s", lokiResp.Status)
	}

	if lokiResp.Data.ResultType != "vector" {
		return 0, fmt.Errorf("loki response data result type: %s", lokiResp.Data.ResultType)
	}

	// No matching lines in the window yields an empty vector.
	if len(lokiResp.Data.Result) == 0 {
		return 0, nil
	}

	if len(lokiResp.Data.Result) != 1 {
		return 0, fmt.Errorf("loki response data result length: %d", len(lokiResp.Data.Result))
	}

	if len(lokiResp.Data.Result[0].Value) != 2 {
		return 0, fmt.Errorf("loki response data result value length: %d", len(lokiResp.Data.Result[0].Value))
	}

	value, ok := (lokiResp.Data.Result[0].Value[1]).(string)
	if !ok {
		return 0, fmt.Errorf("failed to assert value to string: %v", lokiResp.Data.Result[0].Value[1])
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("failed to strconv.Atoi: %w", err)
	}

	return i, nil
}

type LokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric struct {
			} `json:"metric"`
			Value []interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}
