package outbox

import "time"

// Event types and topics delivered through the outbox.
const (
	EventPredictionCreated = "prediction.created"
	TopicPredictions       = "health.predictions"
)

// PredictionCreated is emitted after a prediction record is persisted.
// Delivery is best-effort and invisible to the API caller.
type PredictionCreated struct {
	PredictionID string    `json:"prediction_id"`
	OwnerID      string    `json:"owner_id"`
	ResultClass  int       `json:"result_class"`
	Confidence   float64   `json:"confidence"`
	RiskLevel    string    `json:"risk_level"`
	CreatedAt    time.Time `json:"created_at"`
}
