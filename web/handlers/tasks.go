package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/web/auth"
)

const maxListLimit = 500

func (h *APIHandlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	var req models.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.validate.Struct(req); err != nil {
		renderError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	input := req.Query
	if req.Kind == models.KindDirectURL {
		input = req.URL
	}

	task := models.NewTask(uuid.New().String(), owner, req.Kind, input)
	if err := task.Validate(); err != nil {
		renderError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.Deps.Store.Create(r.Context(), &task); err != nil {
		h.renderStoreError(w, err)
		return
	}

	h.Deps.Logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("owner_id", owner),
		zap.String("kind", string(task.Kind)),
	)

	renderJSON(w, http.StatusCreated, models.CreateTaskResponse{ID: task.ID})
}

func (h *APIHandlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	params := models.SelectParams{OwnerID: owner, Limit: 100}

	if s := r.URL.Query().Get("status"); s != "" {
		params.Status = models.TaskStatus(s)
		if !params.Status.Valid() {
			renderError(w, http.StatusUnprocessableEntity, "invalid status")
			return
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > maxListLimit {
			renderError(w, http.StatusUnprocessableEntity, "invalid limit")
			return
		}

		params.Limit = n
	}

	tasks, err := h.Deps.Store.List(r.Context(), params)
	if err != nil {
		h.renderStoreError(w, err)
		return
	}

	if tasks == nil {
		tasks = []models.Task{}
	}

	renderJSON(w, http.StatusOK, tasks)
}

func (h *APIHandlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	renderJSON(w, http.StatusOK, task)
}

// MarkRunning claims a pending task for an external worker.
func (h *APIHandlers) MarkRunning(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	claimed, err := h.Deps.Store.Claim(r.Context(), task.ID)
	if err != nil {
		h.renderStoreError(w, err)
		return
	}

	if !claimed {
		h.renderStoreError(w, models.ErrClaimLost)
		return
	}

	h.renderCurrent(w, r, task.ID)
}

func (h *APIHandlers) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	var req models.ProgressRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Deps.Store.UpdateProgress(r.Context(), task.ID, req.Stage, req.Current, req.Total, req.Message); err != nil {
		h.renderStoreError(w, err)
		return
	}

	h.renderCurrent(w, r, task.ID)
}

func (h *APIHandlers) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	var req models.CompleteRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Deps.Store.Complete(r.Context(), task.ID, req.Results)
	if err != nil {
		h.renderStoreError(w, err)
		return
	}

	renderJSON(w, http.StatusOK, models.CompleteResponse{Inserted: res.Inserted, AlreadyExisted: res.AlreadyExisted})
}

func (h *APIHandlers) MarkFailed(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	var req models.FailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Deps.Store.Fail(r.Context(), task.ID, req.Error); err != nil {
		h.renderStoreError(w, err)
		return
	}

	h.renderCurrent(w, r, task.ID)
}

func (h *APIHandlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	if err := h.Deps.Store.Cancel(r.Context(), task.ID); err != nil {
		h.renderStoreError(w, err)
		return
	}

	h.Deps.Logger.Info("task cancelled", zap.String("task_id", task.ID))

	h.renderCurrent(w, r, task.ID)
}

func (h *APIHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		renderError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		renderError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}

	return true
}

// ownedTask loads the {id} task. Tasks of other owners are reported as
// missing.
func (h *APIHandlers) ownedTask(w http.ResponseWriter, r *http.Request) (models.Task, bool) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return models.Task{}, false
	}

	idStr := mux.Vars(r)["id"]

	id, err := uuid.Parse(idStr)
	if err != nil {
		// ids are opaque to callers: one that cannot parse is unknown
		h.renderStoreError(w, models.ErrNotFound)
		return models.Task{}, false
	}

	task, err := h.Deps.Store.GetForOwner(r.Context(), owner, id.String())
	if err != nil {
		h.renderStoreError(w, err)
		return models.Task{}, false
	}

	return task, true
}

func (h *APIHandlers) renderCurrent(w http.ResponseWriter, r *http.Request, id string) {
	task, err := h.Deps.Store.Get(r.Context(), id)
	if err != nil {
		h.renderStoreError(w, err)
		return
	}

	renderJSON(w, http.StatusOK, task)
}

func ownerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := auth.GetUserID(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return "", false
	}

	return owner, true
}
