package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit caps history listings when the caller does not ask
// for a specific count.
const DefaultHistoryLimit = 20

// PredictionService runs the feature-assembly and classification pipeline
// and records its outcomes.
type PredictionService struct {
	predictions PredictionRepository
	gateway     SensorGateway
	model       Classifier
	now         func() time.Time
	newID       func() string
}

// NewPredictionService constructs a PredictionService.
func NewPredictionService(predictions PredictionRepository, gateway SensorGateway, model Classifier) *PredictionService {
	return &PredictionService{
		predictions: predictions,
		gateway:     gateway,
		model:       model,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// AssembleFeatures builds the ordered classifier input from the profile and
// a validated reading. BMI is recomputed from the user's current weight and
// height, and age always comes from the profile, never from the sensor feed.
func AssembleFeatures(user User, reading SensorReading) FeatureVector {
	var vector FeatureVector
	vector[FeaturePregnancies] = float64(user.Pregnancies)
	vector[FeatureGlucose] = reading.Glucose
	vector[FeatureBloodPressure] = reading.BloodPressure
	vector[FeatureSkinThickness] = reading.SkinThickness
	vector[FeatureInsulin] = reading.Insulin
	vector[FeatureBMI] = user.BMI()
	vector[FeatureDiabetesPedigree] = reading.DiabetesPedigreeFunction
	vector[FeatureAge] = float64(user.Age)
	return vector
}

// Run executes one full pipeline pass: fetch a reading, assemble the vector,
// classify, and persist the outcome. It either fully succeeds or persists
// nothing.
func (s *PredictionService) Run(ctx context.Context, user User) (*PredictionRecord, error) {
	reading, err := s.gateway.FetchLatest(ctx)
	if err != nil {
		return nil, err
	}

	vector := AssembleFeatures(user, *reading)
	resultClass, probabilities := s.model.Predict(vector)
	confidence := 0.0
	if resultClass >= 0 && resultClass < len(probabilities) {
		confidence = probabilities[resultClass]
	}

	record := PredictionRecord{
		ID:          s.newID(),
		OwnerID:     user.ID,
		Features:    vector,
		ResultClass: resultClass,
		Confidence:  confidence,
		CreatedAt:   s.now(),
	}

	if err := s.predictions.CreatePrediction(ctx, record); err != nil {
		return nil, err
	}
	return &record, nil
}

// History lists the owner's records newest-first. A non-positive limit falls
// back to DefaultHistoryLimit. An owner with no records gets an empty slice.
func (s *PredictionService) History(ctx context.Context, ownerID string, cursor *Cursor, limit int) ([]PredictionRecord, *Cursor, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.predictions.ListByOwner(ctx, ownerID, cursor, limit)
}
