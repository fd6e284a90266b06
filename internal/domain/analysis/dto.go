package analysis

import "github.com/google/uuid"

// TriggerRequest is the body of POST /analysis/trigger. One of ImageURL or
// ImageURLs is required.
type TriggerRequest struct {
	ProductID  string   `json:"productId" validate:"required,uuid"`
	ImageURL   string   `json:"imageUrl" validate:"required_without=ImageURLs,max=2048"`
	ImageURLs  []string `json:"imageUrls" validate:"omitempty,max=20,dive,url"`
	MaxRetries *int     `json:"maxRetries" validate:"omitempty,gte=0,lte=5"`
}

// TriggerResponse lists the dispatched task ids.
type TriggerResponse struct {
	TaskIDs []uuid.UUID `json:"taskIds"`
}
