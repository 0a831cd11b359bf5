package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/diapredict/internal/auth"
	"example.com/diapredict/internal/domain"
	"example.com/diapredict/internal/sensor"
)

type memUserRepo struct {
	users map[string]domain.User // keyed by username
}

func (r *memUserRepo) CreateUser(ctx context.Context, user domain.User) error {
	if _, exists := r.users[user.Username]; exists {
		return domain.ErrDuplicateUsername
	}
	r.users[user.Username] = user
	return nil
}

func (r *memUserRepo) UserByID(ctx context.Context, id string) (*domain.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if u, ok := r.users[username]; ok {
		return &u, nil
	}
	return nil, nil
}

type memPredictionRepo struct {
	records []domain.PredictionRecord
}

func (r *memPredictionRepo) CreatePrediction(ctx context.Context, record domain.PredictionRecord) error {
	// prepend so listings come back newest-first like the real store
	r.records = append([]domain.PredictionRecord{record}, r.records...)
	return nil
}

func (r *memPredictionRepo) ListByOwner(ctx context.Context, ownerID string, cursor *domain.Cursor, limit int) ([]domain.PredictionRecord, *domain.Cursor, error) {
	out := make([]domain.PredictionRecord, 0, limit)
	for _, rec := range r.records {
		if rec.OwnerID != ownerID {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil, nil
}

type fakeGateway struct {
	reading *domain.SensorReading
	err     error
}

func (g *fakeGateway) FetchLatest(ctx context.Context) (*domain.SensorReading, error) {
	return g.reading, g.err
}

func (g *fakeGateway) FieldStatus(ctx context.Context) sensor.FieldStatus {
	if g.err != nil {
		return sensor.FieldStatus{Status: "error", Detail: g.err.Error()}
	}
	return sensor.FieldStatus{Status: "ok", Glucose: &g.reading.Glucose, ObservedAt: g.reading.ObservedAt}
}

type fixedClassifier struct {
	class int
	probs []float64
}

func (c fixedClassifier) Predict(vector domain.FeatureVector) (int, []float64) {
	return c.class, c.probs
}

var testAuthConfig = auth.Config{Secret: "test-secret", Issuer: "diapredict-test"}

func newTestServer(t *testing.T, gateway Gateway, model domain.Classifier) *httptest.Server {
	t.Helper()

	users := &memUserRepo{users: make(map[string]domain.User)}
	predictions := &memPredictionRepo{}

	signer := func(subject string, ttl time.Duration) (string, error) {
		return auth.Issue(subject, ttl, testAuthConfig)
	}
	accounts := domain.NewAccountService(users, signer, time.Hour)
	pipeline := domain.NewPredictionService(predictions, gateway, model)

	mux := http.NewServeMux()
	NewHandler(accounts, pipeline, gateway).RegisterRoutes(mux)

	public := map[string]bool{"/": true, "/healthz": true, "/v1/auth/signup": true, "/v1/auth/login": true}
	middleware := auth.NewMiddleware(testAuthConfig, func(r *http.Request) bool {
		return public[r.URL.Path]
	})

	server := httptest.NewServer(middleware.Wrap(mux))
	t.Cleanup(server.Close)
	return server
}

func healthyGateway() *fakeGateway {
	return &fakeGateway{reading: &domain.SensorReading{
		Glucose:                  130,
		BloodPressure:            72,
		SkinThickness:            28,
		Insulin:                  95,
		DiabetesPedigreeFunction: 0.44,
		ObservedAt:               "2026-08-01T10:00:00Z",
	}}
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func signupPayload(username string) map[string]interface{} {
	return map[string]interface{}{
		"username":    username,
		"password":    "password1",
		"pregnancies": 1,
		"weight_kg":   70.0,
		"height_m":    1.75,
		"age":         30,
	}
}

func signup(t *testing.T, server *httptest.Server, username string) TokenResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/auth/signup", "", signupPayload(username))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup returned %d", resp.StatusCode)
	}
	var envelope TokenResponse
	decodeBody(t, resp, &envelope)
	return envelope
}

func TestSignupReturnsTokenEnvelope(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})

	envelope := signup(t, server, "alice")
	if envelope.AccessToken == "" || envelope.TokenType != "bearer" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if envelope.ExpiresIn != 3600 {
		t.Fatalf("expected expires_in 3600 got %d", envelope.ExpiresIn)
	}
	if envelope.User.Username != "alice" || envelope.User.ID == "" {
		t.Fatalf("unexpected user summary %+v", envelope.User)
	}

	claims, err := auth.Parse(envelope.AccessToken, testAuthConfig)
	if err != nil {
		t.Fatalf("issued token must verify: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("token subject %q, want username", claims.Subject)
	}
}

func TestSignupValidation(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})

	payload := signupPayload("alice")
	payload["age"] = 10
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/auth/signup", "", payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}
}

func TestSignupAcceptsCentimeterHeight(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})

	payload := signupPayload("claire")
	payload["height_m"] = 175.0
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/auth/signup", "", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.StatusCode)
	}
	var envelope TokenResponse
	decodeBody(t, resp, &envelope)
	if envelope.User.HeightM != 1.75 {
		t.Fatalf("expected stored height 1.75 got %v", envelope.User.HeightM)
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})

	signup(t, server, "alice")
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/auth/signup", "", signupPayload("alice"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})
	signup(t, server, "alice")

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["type"] != "invalid_credentials" {
		t.Fatalf("unexpected error type %q", body["type"])
	}
}

func TestMeReportsDerivedBMI(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})
	envelope := signup(t, server, "alice")

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/auth/me", envelope.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var profile ProfileResponse
	decodeBody(t, resp, &profile)
	if profile.BMI != 22.86 {
		t.Fatalf("expected bmi 22.86 got %v", profile.BMI)
	}
	if profile.Username != "alice" {
		t.Fatalf("unexpected username %q", profile.Username)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})

	for _, path := range []string{"/v1/auth/me", "/v1/sensor/latest", "/v1/predictions/history"} {
		resp := doJSON(t, http.MethodGet, server.URL+path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 got %d", path, resp.StatusCode)
		}
	}
}

func TestSensorLatestIncompleteData(t *testing.T) {
	gateway := &fakeGateway{err: &sensor.IncompleteDataError{MissingFields: []string{"Glucose", "Insulin"}}}
	server := newTestServer(t, gateway, fixedClassifier{})
	envelope := signup(t, server, "alice")

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/sensor/latest", envelope.AccessToken, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.StatusCode)
	}
	var body IncompleteSensorDataResponse
	decodeBody(t, resp, &body)
	if body.Type != "incomplete_sensor_data" {
		t.Fatalf("unexpected type %q", body.Type)
	}
	if len(body.MissingFields) != 2 || body.MissingFields[0] != "Glucose" {
		t.Fatalf("unexpected missing fields %v", body.MissingFields)
	}
}

func TestSensorLatestUpstreamDown(t *testing.T) {
	gateway := &fakeGateway{err: fmt.Errorf("fetch: %w", sensor.ErrUpstreamUnavailable)}
	server := newTestServer(t, gateway, fixedClassifier{})
	envelope := signup(t, server, "alice")

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/sensor/latest", envelope.AccessToken, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.StatusCode)
	}
}

func TestSensorStatusWhileUpstreamDown(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("connection refused")}
	server := newTestServer(t, gateway, fixedClassifier{})
	envelope := signup(t, server, "alice")

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/sensor/status", envelope.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint must not fail, got %d", resp.StatusCode)
	}
	var status sensor.FieldStatus
	decodeBody(t, resp, &status)
	if status.Status != "error" || status.Detail == "" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestPredictThenHistory(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{class: 1, probs: []float64{0.15, 0.85}})
	envelope := signup(t, server, "alice")

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/predictions", envelope.AccessToken, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.StatusCode)
	}
	var created PredictionView
	decodeBody(t, resp, &created)
	if created.Prediction != 1 || created.Probability != 0.85 {
		t.Fatalf("unexpected outcome %+v", created)
	}
	if created.RiskLevel != "High Risk" {
		t.Fatalf("unexpected risk level %q", created.RiskLevel)
	}
	if created.FeaturesUsed["Glucose"] != 130 || created.FeaturesUsed["BMI"] != 22.86 {
		t.Fatalf("unexpected features %v", created.FeaturesUsed)
	}
	if created.FeaturesUsed["Age"] != 30 {
		t.Fatal("age must come from the profile")
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/v1/predictions/history", envelope.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var history HistoryResponse
	decodeBody(t, resp, &history)
	if len(history.Items) != 1 {
		t.Fatalf("expected 1 history item got %d", len(history.Items))
	}
	if history.Items[0].ID != created.ID {
		t.Fatal("history must return the persisted record")
	}
	if history.Items[0].FeaturesUsed["Glucose"] != created.FeaturesUsed["Glucose"] {
		t.Fatal("history snapshot must match the prediction-time features")
	}
}

func TestHistoryIsOwnerScoped(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{class: 0, probs: []float64{0.9, 0.1}})
	alice := signup(t, server, "alice")
	bob := signup(t, server, "bob")

	if resp := doJSON(t, http.MethodPost, server.URL+"/v1/predictions", alice.AccessToken, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("predict failed with %d", resp.StatusCode)
	}

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/predictions/history", bob.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var history HistoryResponse
	decodeBody(t, resp, &history)
	if len(history.Items) != 0 {
		t.Fatalf("bob must not see alice's records, got %d", len(history.Items))
	}
}

func TestHistoryRejectsMalformedCursor(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})
	envelope := signup(t, server, "alice")

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/predictions/history?cursor=!!not-base64!!", envelope.AccessToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}
}

func TestRootAndHealthzArePublic(t *testing.T) {
	server := newTestServer(t, healthyGateway(), fixedClassifier{})

	resp := doJSON(t, http.MethodGet, server.URL+"/", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("root: expected 200 got %d", resp.StatusCode)
	}
	var descriptor map[string]string
	decodeBody(t, resp, &descriptor)
	if descriptor["status"] != "running" {
		t.Fatalf("unexpected descriptor %v", descriptor)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200 got %d", resp.StatusCode)
	}
	var health map[string]string
	decodeBody(t, resp, &health)
	if health["status"] != "healthy" || health["timestamp"] == "" {
		t.Fatalf("unexpected health payload %v", health)
	}
}
