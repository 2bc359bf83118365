package controller

import "eventflyer/internal/flyer/service"

// AttachRequest replays a finalize notification for one object.
type AttachRequest struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name" binding:"required"`
	ContentType string `json:"content_type"`
}

// AttachResponse reports what the attach handler did.
type AttachResponse struct {
	EventID string               `json:"event_id,omitempty"`
	Result  service.AttachResult `json:"result"`
}
