package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/service"
)

// CreateTaskRequest is the payload of POST /api/lists/{listID}/tasks.
// Optional fields follow service.TaskPatch.
type CreateTaskRequest struct {
	Title      string         `json:"title"       validate:"required,max=1024"`
	Notes      *string        `json:"notes"       validate:"omitempty,max=8192"`
	DueAt      *time.Time     `json:"due_at"`
	DueHasTime *bool          `json:"due_has_time"`
	RemindAt   *time.Time     `json:"remind_at"`
	Recurrence *string        `json:"recurrence"  validate:"omitempty,max=512"`
	Location   *domain.Region `json:"location"`
	Priority   *int           `json:"priority"    validate:"omitempty,gte=0,lte=3"`
}

func (r CreateTaskRequest) patch() service.TaskPatch {
	return service.TaskPatch{
		Notes:      r.Notes,
		DueAt:      r.DueAt,
		DueHasTime: r.DueHasTime,
		RemindAt:   r.RemindAt,
		Recurrence: r.Recurrence,
		Location:   r.Location,
		Priority:   r.Priority,
	}
}

// UpdateTaskRequest is the payload of PATCH /api/tasks/{id}.
type UpdateTaskRequest struct {
	Title         *string        `json:"title"          validate:"omitempty,min=1,max=1024"`
	Notes         *string        `json:"notes"          validate:"omitempty,max=8192"`
	DueAt         *time.Time     `json:"due_at"`
	DueHasTime    *bool          `json:"due_has_time"`
	ClearDue      bool           `json:"clear_due"`
	RemindAt      *time.Time     `json:"remind_at"`
	ClearRemind   bool           `json:"clear_remind"`
	Recurrence    *string        `json:"recurrence"     validate:"omitempty,max=512"`
	Location      *domain.Region `json:"location"`
	ClearLocation bool           `json:"clear_location"`
	Priority      *int           `json:"priority"       validate:"omitempty,gte=0,lte=3"`
}

func (r UpdateTaskRequest) patch() service.TaskPatch {
	return service.TaskPatch{
		Title:         r.Title,
		Notes:         r.Notes,
		DueAt:         r.DueAt,
		DueHasTime:    r.DueHasTime,
		ClearDue:      r.ClearDue,
		RemindAt:      r.RemindAt,
		ClearRemind:   r.ClearRemind,
		Recurrence:    r.Recurrence,
		Location:      r.Location,
		ClearLocation: r.ClearLocation,
		Priority:      r.Priority,
	}
}

// CompleteTaskRequest is the optional payload of POST /api/tasks/{id}/complete.
type CompleteTaskRequest struct {
	CompletedAt *time.Time `json:"completed_at"`
}

// TaskListResponse wraps the tasks of a list.
type TaskListResponse struct {
	ListID uuid.UUID      `json:"list_id"`
	Tasks  []*domain.Task `json:"tasks"`
}

// LinkRequest is the payload of POST /api/bindings.
type LinkRequest struct {
	ListID         uuid.UUID `json:"list_id"         validate:"required"`
	ProviderKind   string    `json:"provider_kind"   validate:"required,oneof=caldav google_tasks"`
	RemoteListID   string    `json:"remote_list_id"  validate:"required,max=2048"`
	CredentialsRef string    `json:"credentials_ref" validate:"required,max=255"`
}

// ReauthRequest is the payload of POST /api/bindings/{listID}/reauth.
type ReauthRequest struct {
	BaseURL      string    `json:"base_url"      validate:"omitempty,url"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

// Validate requires either basic credentials or an OAuth token.
func (r *ReauthRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	hasBasic := r.Username != "" && r.Password != ""
	hasOAuth := r.AccessToken != "" || r.RefreshToken != ""
	if !hasBasic && !hasOAuth {
		return domain.ErrValidation
	}
	return nil
}

// BindingListResponse wraps every binding.
type BindingListResponse struct {
	Bindings []*domain.ListBinding `json:"bindings"`
}

// GeofenceEventRequest is the payload of POST /api/geofence-events.
type GeofenceEventRequest struct {
	Latitude   float64 `json:"latitude"   validate:"gte=-90,lte=90"`
	Longitude  float64 `json:"longitude"  validate:"gte=-180,lte=180"`
	Transition string  `json:"transition" validate:"required,oneof=enter exit"`
}

// GeofenceEventResponse reports how many triggers fired.
type GeofenceEventResponse struct {
	Dispatched int `json:"dispatched"`
}
