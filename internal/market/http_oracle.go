package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	xerrors "ConsensusMCP-Chain/internal/errors"
)

const defaultOracleTimeout = 15 * time.Second

// HTTPOracleConfig configures the REST price feed.
type HTTPOracleConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPOracle reads quotes from a REST price feed:
//
//	GET /v1/prices/{pair}
//	GET /v1/history?pair=..&hours=..
type HTTPOracle struct {
	client *resty.Client
}

type priceResponse struct {
	Pair      string  `json:"pair"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Timestamp int64   `json:"timestamp"`
}

type historyResponse struct {
	Points []struct {
		Timestamp int64   `json:"timestamp"`
		Open      float64 `json:"open"`
		High      float64 `json:"high"`
		Low       float64 `json:"low"`
		Close     float64 `json:"close"`
		Volume    float64 `json:"volume"`
	} `json:"points"`
}

// NewHTTPOracle builds an oracle client.
func NewHTTPOracle(cfg HTTPOracleConfig) (*HTTPOracle, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("oracle base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOracleTimeout
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		client.SetHeader("X-API-Key", key)
	}
	return &HTTPOracle{client: client}, nil
}

// FetchSnapshot implements Oracle.
func (o *HTTPOracle) FetchSnapshot(ctx context.Context, pair string) (Snapshot, error) {
	pair = NormalizePair(pair)
	var out priceResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetPathParam("pair", pair).
		SetResult(&out).
		Get("/v1/prices/{pair}")
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "price request failed")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Snapshot{}, ErrNotFound
	}
	if resp.IsError() {
		return Snapshot{}, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("price feed returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}
	if out.Price <= 0 {
		return Snapshot{}, ErrNotFound
	}
	if out.Pair == "" {
		out.Pair = pair
	}
	return Snapshot{
		Pair:      out.Pair,
		Price:     out.Price,
		Change24h: out.Change24h,
		High24h:   out.High24h,
		Low24h:    out.Low24h,
		Timestamp: unixOrNow(out.Timestamp),
	}, nil
}

// FetchHistory implements Oracle. An empty series is not an error.
func (o *HTTPOracle) FetchHistory(ctx context.Context, pair string, hoursBack int) ([]Point, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	var out historyResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"pair":  NormalizePair(pair),
			"hours": strconv.Itoa(hoursBack),
		}).
		SetResult(&out).
		Get("/v1/history")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "history request failed")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("history feed returned %d", resp.StatusCode()))
	}
	points := make([]Point, 0, len(out.Points))
	for _, p := range out.Points {
		points = append(points, Point{
			Timestamp: time.Unix(p.Timestamp, 0).UTC(),
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    p.Volume,
		})
	}
	return points, nil
}

// NormalizePair upper-cases a pair and uses "_" as separator.
func NormalizePair(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	return strings.NewReplacer("/", "_", "-", "_").Replace(pair)
}

func unixOrNow(ts int64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(ts, 0).UTC()
}
