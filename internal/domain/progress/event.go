package progress

import (
	"time"

	"github.com/google/uuid"
)

// Status of a generation step.
type Status string

const (
	StepStarted   Status = "step_started"
	StepCompleted Status = "step_completed"
	Failed        Status = "failed"
	Completed     Status = "completed"
)

const channelPrefix = "techpack:progress:"

// Event is one progress notification for a product's generation.
type Event struct {
	ProductID uuid.UUID `json:"productId"`
	Operation string    `json:"operation"`
	Step      string    `json:"step,omitempty"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel returns the Redis channel carrying events for productID.
func Channel(productID uuid.UUID) string {
	return channelPrefix + productID.String()
}
