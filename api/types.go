package api

import (
	"net/http"
)

// Plugin extends the server with extra routes, for example a metrics
// endpoint.
type Plugin interface {
	Name() string
	Description() string
	RegisterRoutes(mux *http.ServeMux)
}

type SubmitApprovalRequest struct {
	StepID   string  `json:"step_id"`
	UserID   string  `json:"user_id"`
	Approved bool    `json:"approved"`
	Comment  *string `json:"comment,omitempty"`
}

type CancelExecutionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
