package models

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// response for task create
type CreateTaskResponse struct {
	ID string `json:"id"`
}

// request body for task create
type CreateTaskRequest struct {
	Kind  TaskKind `json:"kind" validate:"required,oneof=query-search direct-url"`
	Query string   `json:"query" validate:"required_if=Kind query-search,max=500"`
	URL   string   `json:"url" validate:"required_if=Kind direct-url,max=2048"`
}

// request body for PATCH /progress
type ProgressRequest struct {
	Stage   string `json:"stage" validate:"required"`
	Current int    `json:"current" validate:"gte=0"`
	Total   int    `json:"total" validate:"gte=0"`
	Message string `json:"message" validate:"max=500"`
}

// request body for PATCH /completed
type CompleteRequest struct {
	Results []Candidate `json:"results"`
}

// request body for PATCH /failed
type FailRequest struct {
	Error string `json:"error" validate:"required,max=1000"`
}

// response for the completion endpoint
type CompleteResponse struct {
	Inserted       int `json:"inserted"`
	AlreadyExisted int `json:"already_existed"`
}
