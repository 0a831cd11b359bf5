package domain

import (
	"context"
	"time"
)

// FeatureCount is the fixed width of the classifier's input vector.
const FeatureCount = 8

// Feature vector slots, in the exact order the classifier was trained on.
// The ordering is a contract: reordering silently corrupts predictions.
const (
	FeaturePregnancies = iota
	FeatureGlucose
	FeatureBloodPressure
	FeatureSkinThickness
	FeatureInsulin
	FeatureBMI
	FeatureDiabetesPedigree
	FeatureAge
)

// FeatureNames lists the canonical feature names by slot index.
var FeatureNames = [FeatureCount]string{
	"Pregnancies",
	"Glucose",
	"BloodPressure",
	"SkinThickness",
	"Insulin",
	"BMI",
	"DiabetesPedigreeFunction",
	"Age",
}

// FeatureVector is the ordered classifier input.
type FeatureVector [FeatureCount]float64

// SensorReading is a fully populated set of channel values from the upstream
// feed. A reading is never partially populated; incomplete upstream data is
// rejected at the gateway.
type SensorReading struct {
	Glucose                  float64
	BloodPressure            float64
	SkinThickness            float64
	Insulin                  float64
	DiabetesPedigreeFunction float64
	ObservedAt               string // Raw upstream creation timestamp, empty if absent.
}

// PredictionRecord is the immutable outcome of one pipeline run.
type PredictionRecord struct {
	ID          string
	OwnerID     string
	Features    FeatureVector
	ResultClass int
	Confidence  float64
	CreatedAt   time.Time
}

// RiskLevel derives the tiered label for this record.
func (r PredictionRecord) RiskLevel() string {
	return RiskLevel(r.ResultClass, r.Confidence)
}

// RiskLevel maps a binary class and its confidence onto a tiered label.
// Boundary confidences (exactly 0.8 or 0.6) fall into the lower tier.
func RiskLevel(resultClass int, confidence float64) string {
	if resultClass == 0 {
		switch {
		case confidence > 0.8:
			return "Low Risk"
		case confidence > 0.6:
			return "Low-Moderate Risk"
		default:
			return "Moderate Risk"
		}
	}
	switch {
	case confidence > 0.8:
		return "High Risk"
	case confidence > 0.6:
		return "Moderate-High Risk"
	default:
		return "Moderate Risk"
	}
}

// Cursor models the keyset pagination token for history listings.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// PredictionRepository captures persistence operations for prediction records.
type PredictionRepository interface {
	CreatePrediction(ctx context.Context, record PredictionRecord) error
	ListByOwner(ctx context.Context, ownerID string, cursor *Cursor, limit int) ([]PredictionRecord, *Cursor, error)
}

// SensorGateway supplies validated readings from the upstream feed.
type SensorGateway interface {
	FetchLatest(ctx context.Context) (*SensorReading, error)
}

// Classifier is the opaque, already-fitted classification capability. It is
// loaded once at startup and safe for unsynchronized concurrent use.
type Classifier interface {
	Predict(vector FeatureVector) (resultClass int, probabilities []float64)
}
