// Package api exposes HTTP handlers for the prediction service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/diapredict/internal/auth"
	"example.com/diapredict/internal/domain"
	"example.com/diapredict/internal/persistence"
	"example.com/diapredict/internal/sensor"
)

// Gateway is the sensor surface the handlers need: validated fetches for
// predictions plus the never-failing status accessor.
type Gateway interface {
	domain.SensorGateway
	FieldStatus(ctx context.Context) sensor.FieldStatus
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	accounts    *domain.AccountService
	predictions *domain.PredictionService
	gateway     Gateway
}

// NewHandler builds a Handler.
func NewHandler(accounts *domain.AccountService, predictions *domain.PredictionService, gateway Gateway) *Handler {
	return &Handler{accounts: accounts, predictions: predictions, gateway: gateway}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/auth/signup", h.signup)
	mux.HandleFunc("/v1/auth/login", h.login)
	mux.HandleFunc("/v1/auth/me", h.me)
	mux.HandleFunc("/v1/sensor/latest", h.sensorLatest)
	mux.HandleFunc("/v1/sensor/status", h.sensorStatus)
	mux.HandleFunc("/v1/predictions", h.predict)
	mux.HandleFunc("/v1/predictions/history", h.history)
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/", root)
}

func root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Diabetes Prediction API",
		"version": "1.0.0",
		"status":  "running",
	})
}

// healthz reports liveness with the current process time.
func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	user, token, err := h.accounts.Signup(r.Context(), domain.SignupInput{
		Username:    req.Username,
		Password:    req.Password,
		Pregnancies: req.Pregnancies,
		WeightKg:    req.WeightKg,
		HeightM:     req.HeightM,
		Age:         req.Age,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateUsername) {
			writeError(w, http.StatusConflict, "duplicate_username", "username already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, h.tokenEnvelope(token, *user))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	user, token, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect username or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.tokenEnvelope(token, *user))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{
		ID:          user.ID,
		Username:    user.Username,
		Pregnancies: user.Pregnancies,
		WeightKg:    user.WeightKg,
		HeightM:     user.HeightM,
		Age:         user.Age,
		BMI:         user.BMI(),
		CreatedAt:   user.CreatedAt,
	})
}

func (h *Handler) sensorLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	if _, ok := h.currentUser(w, r); !ok {
		return
	}

	reading, err := h.gateway.FetchLatest(r.Context())
	if err != nil {
		writeSensorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SensorReadingResponse{
		Glucose:                  reading.Glucose,
		BloodPressure:            reading.BloodPressure,
		SkinThickness:            reading.SkinThickness,
		Insulin:                  reading.Insulin,
		DiabetesPedigreeFunction: reading.DiabetesPedigreeFunction,
		ObservedAt:               reading.ObservedAt,
	})
}

func (h *Handler) sensorStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	if _, ok := h.currentUser(w, r); !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.gateway.FieldStatus(r.Context()))
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	record, err := h.predictions.Run(r.Context(), *user)
	if err != nil {
		writeSensorError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPredictionView(*record))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.predictions.History(r.Context(), user.ID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]PredictionView, 0, len(records))
	for _, rec := range records {
		items = append(items, toPredictionView(rec))
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// currentUser resolves the authenticated token subject to a stored user,
// writing the error response itself when that fails.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}

	user, err := h.accounts.ResolveSubject(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "token subject no longer exists")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return nil, false
	}
	return user, true
}

func (h *Handler) tokenEnvelope(token string, user domain.User) TokenResponse {
	return TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.accounts.TokenTTL().Seconds()),
		User: UserSummary{
			ID:       user.ID,
			Username: user.Username,
			WeightKg: user.WeightKg,
			HeightM:  user.HeightM,
			Age:      user.Age,
		},
	}
}

func writeSensorError(w http.ResponseWriter, err error) {
	var incomplete *sensor.IncompleteDataError
	if errors.As(err, &incomplete) {
		writeJSON(w, http.StatusUnprocessableEntity, IncompleteSensorDataResponse{
			Type:          "incomplete_sensor_data",
			Detail:        incomplete.Error(),
			MissingFields: incomplete.MissingFields,
		})
		return
	}
	if errors.Is(err, sensor.ErrUpstreamUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

// SignupRequest is the payload for POST /v1/auth/signup.
type SignupRequest struct {
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	Pregnancies int     `json:"pregnancies"`
	WeightKg    float64 `json:"weight_kg"`
	HeightM     float64 `json:"height_m"`
	Age         int     `json:"age"`
}

// Validate ensures request correctness. Height is range-checked after
// centimeter normalization so both 1.75 and 175 are accepted.
func (r SignupRequest) Validate() error {
	if l := len(strings.TrimSpace(r.Username)); l < 3 || l > 50 {
		return errors.New("username must be 3-50 characters")
	}
	if len(r.Password) < 6 {
		return errors.New("password must be at least 6 characters")
	}
	if r.Pregnancies < 0 || r.Pregnancies > 20 {
		return errors.New("pregnancies must be 0-20")
	}
	if r.WeightKg < 30 || r.WeightKg > 200 {
		return errors.New("weight_kg must be 30-200")
	}
	if h := domain.NormalizeHeightM(r.HeightM); h < 1.0 || h > 2.5 {
		return errors.New("height_m must be 1.0-2.5 meters")
	}
	if r.Age < 18 || r.Age > 120 {
		return errors.New("age must be 18-120")
	}
	return nil
}

// LoginRequest is the payload for POST /v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserSummary is the compact identity embedded in the token envelope.
type UserSummary struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	WeightKg float64 `json:"weight_kg"`
	HeightM  float64 `json:"height_m"`
	Age      int     `json:"age"`
}

// TokenResponse is the envelope returned by both sign-up and login.
type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	User        UserSummary `json:"user"`
}

// ProfileResponse exposes identity, profile and derived BMI.
type ProfileResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Pregnancies int       `json:"pregnancies"`
	WeightKg    float64   `json:"weight_kg"`
	HeightM     float64   `json:"height_m"`
	Age         int       `json:"age"`
	BMI         float64   `json:"bmi"`
	CreatedAt   time.Time `json:"created_at"`
}

// SensorReadingResponse is a fully validated reading.
type SensorReadingResponse struct {
	Glucose                  float64 `json:"glucose"`
	BloodPressure            float64 `json:"blood_pressure"`
	SkinThickness            float64 `json:"skin_thickness"`
	Insulin                  float64 `json:"insulin"`
	DiabetesPedigreeFunction float64 `json:"diabetes_pedigree_function"`
	ObservedAt               string  `json:"observed_at"`
}

// IncompleteSensorDataResponse names the offending upstream fields.
type IncompleteSensorDataResponse struct {
	Type          string   `json:"type"`
	Detail        string   `json:"detail"`
	MissingFields []string `json:"missing_fields"`
}

// PredictionView exposes one prediction record.
type PredictionView struct {
	ID           string             `json:"id"`
	Prediction   int                `json:"prediction"`
	Probability  float64            `json:"probability"`
	RiskLevel    string             `json:"risk_level"`
	FeaturesUsed map[string]float64 `json:"features_used"`
	CreatedAt    time.Time          `json:"created_at"`
}

// HistoryResponse packages history results.
type HistoryResponse struct {
	Items      []PredictionView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func toPredictionView(rec domain.PredictionRecord) PredictionView {
	features := make(map[string]float64, domain.FeatureCount)
	for i, name := range domain.FeatureNames {
		features[name] = rec.Features[i]
	}
	return PredictionView{
		ID:           rec.ID,
		Prediction:   rec.ResultClass,
		Probability:  rec.Confidence,
		RiskLevel:    rec.RiskLevel(),
		FeaturesUsed: features,
		CreatedAt:    rec.CreatedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
