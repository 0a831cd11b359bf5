// Package sensor fetches and validates readings from the upstream IoT feed.
package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/diapredict/internal/domain"
	"example.com/diapredict/internal/observability"
)

// ErrUpstreamUnavailable covers transport failures, non-2xx responses,
// undecodable payloads, and feeds with zero entries.
var ErrUpstreamUnavailable = errors.New("upstream sensor feed unavailable")

// IncompleteDataError reports which upstream channel fields were missing,
// empty, or non-numeric in the latest feed entry.
type IncompleteDataError struct {
	MissingFields []string
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf("incomplete sensor data: missing or invalid %s", strings.Join(e.MissingFields, ", "))
}

// Config holds the upstream channel coordinates.
type Config struct {
	BaseURL   string
	ChannelID string
	ReadKey   string
	Timeout   time.Duration
}

// Gateway pulls the most recent entry from the upstream channel. The
// reference set is loaded once at construction and only read afterwards.
type Gateway struct {
	cfg    Config
	client *http.Client
	dpf    []float64
}

// NewGateway constructs a Gateway. reference must be non-empty; use
// LoadReference to obtain it.
func NewGateway(cfg Config, reference []float64) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		dpf:    reference,
	}
}

// The four channel fields the upstream device is expected to populate.
// DiabetesPedigreeFunction (field5) is deliberately absent: the device
// cannot measure it, so it is synthesized from the reference set.
var requiredFields = []struct {
	key  string
	name string
}{
	{"field1", "Glucose"},
	{"field2", "BloodPressure"},
	{"field3", "SkinThickness"},
	{"field4", "Insulin"},
}

type feedEntry struct {
	CreatedAt string  `json:"created_at"`
	Field1    *string `json:"field1"`
	Field2    *string `json:"field2"`
	Field3    *string `json:"field3"`
	Field4    *string `json:"field4"`
}

func (e feedEntry) value(key string) *string {
	switch key {
	case "field1":
		return e.Field1
	case "field2":
		return e.Field2
	case "field3":
		return e.Field3
	case "field4":
		return e.Field4
	}
	return nil
}

type feedResponse struct {
	Feeds []feedEntry `json:"feeds"`
}

// FetchLatest queries the upstream channel for the single most recent entry
// and validates it. The returned reading is always fully populated; partial
// data fails with *IncompleteDataError instead.
func (g *Gateway) FetchLatest(ctx context.Context) (*domain.SensorReading, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/feeds.json", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.ChannelID)
	params := url.Values{}
	if g.cfg.ReadKey != "" {
		params.Set("api_key", g.cfg.ReadKey)
	}
	params.Set("results", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		observability.RecordSensorFailure("unavailable")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordSensorFailure("unavailable")
		return nil, fmt.Errorf("%w: upstream returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		observability.RecordSensorFailure("unavailable")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if len(payload.Feeds) == 0 {
		observability.RecordSensorFailure("unavailable")
		return nil, fmt.Errorf("%w: channel has no entries", ErrUpstreamUnavailable)
	}

	latest := payload.Feeds[0]

	var missing []string
	values := make(map[string]float64, len(requiredFields))
	for _, field := range requiredFields {
		raw := latest.value(field.key)
		if raw == nil || *raw == "" {
			missing = append(missing, field.name)
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
		if err != nil {
			missing = append(missing, field.name)
			continue
		}
		values[field.key] = parsed
	}
	if len(missing) > 0 {
		observability.RecordSensorFailure("incomplete")
		return nil, &IncompleteDataError{MissingFields: missing}
	}

	return &domain.SensorReading{
		Glucose:                  values["field1"],
		BloodPressure:            values["field2"],
		SkinThickness:            values["field3"],
		Insulin:                  values["field4"],
		DiabetesPedigreeFunction: g.randomDPF(),
		ObservedAt:               latest.CreatedAt,
	}, nil
}

// FieldStatus describes the health of the upstream channel fields. It is a
// reporting surface: failures show up in Status/Detail, never as an error.
type FieldStatus struct {
	Glucose                  *float64 `json:"glucose,omitempty"`
	BloodPressure            *float64 `json:"blood_pressure,omitempty"`
	SkinThickness            *float64 `json:"skin_thickness,omitempty"`
	Insulin                  *float64 `json:"insulin,omitempty"`
	DiabetesPedigreeFunction *float64 `json:"diabetes_pedigree_function,omitempty"`
	ObservedAt               string   `json:"observed_at,omitempty"`
	Status                   string   `json:"status"`
	Detail                   string   `json:"detail,omitempty"`
}

// FieldStatus wraps FetchLatest and reports the outcome instead of failing.
func (g *Gateway) FieldStatus(ctx context.Context) FieldStatus {
	reading, err := g.FetchLatest(ctx)
	if err != nil {
		return FieldStatus{Status: "error", Detail: err.Error()}
	}
	return FieldStatus{
		Glucose:                  &reading.Glucose,
		BloodPressure:            &reading.BloodPressure,
		SkinThickness:            &reading.SkinThickness,
		Insulin:                  &reading.Insulin,
		DiabetesPedigreeFunction: &reading.DiabetesPedigreeFunction,
		ObservedAt:               reading.ObservedAt,
		Status:                   "ok",
	}
}

func (g *Gateway) randomDPF() float64 {
	return g.dpf[rand.IntN(len(g.dpf))]
}
