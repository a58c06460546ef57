package types

import "encoding/json"

// UploadResponse is the body of a successful submission.
type UploadResponse struct {
	TaskID string `json:"task_id"`
}

type FeedbackRequest struct {
	Feedback string `json:"feedback"`
	TaskID   string `json:"task_id"`
}

type FeedbackResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// LLMLog is one model request recorded by the backend while generating.
type LLMLog struct {
	RequestID  string          `json:"request_id"`
	TaskID     string          `json:"task_id"`
	Timestamp  string          `json:"timestamp"`
	Stage      string          `json:"stage"`
	AgentRole  string          `json:"agent_role,omitempty"`
	ModelType  string          `json:"model_type"`
	ModelName  string          `json:"model_name"`
	Request    json.RawMessage `json:"request,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	DurationMS float64         `json:"duration_ms"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
}

type LLMLogsResponse struct {
	TaskID     string   `json:"task_id"`
	Logs       []LLMLog `json:"logs"`
	TotalCount int      `json:"total_count"`
}

type LLMLogsSummary struct {
	TotalRequests      int            `json:"total_requests"`
	SuccessfulRequests int            `json:"successful_requests"`
	FailedRequests     int            `json:"failed_requests"`
	Stages             map[string]int `json:"stages"`
	ModelTypes         map[string]int `json:"model_types"`
	TotalDurationMS    float64        `json:"total_duration_ms"`
	TotalTokens        int64          `json:"total_tokens"`
}

type LLMLogsSummaryResponse struct {
	TaskID  string         `json:"task_id"`
	Summary LLMLogsSummary `json:"summary"`
}
