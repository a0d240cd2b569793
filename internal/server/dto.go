package server

import (
	"sectorboard/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
}

type CreateSectorRequest struct {
	Name string `json:"name"`
}

type UpdateSectorRequest struct {
	Name string `json:"name"`
}

type CreateTaskRequest struct {
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	Type           string  `json:"type" enum:"daily,monthly,temporary"`
	SectorID       string  `json:"sector_id"`
	Deadline       string  `json:"deadline" format:"date-time"`
	Urgency        string  `json:"urgency,omitempty" enum:"not_urgent,relatively_urgent,urgent"`
	Status         string  `json:"status,omitempty" enum:"pending,delivered,not_delivered"`
	CEOObservation *string `json:"ceo_observation,omitempty"`
}

type UpdateTaskRequest struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Type           *string `json:"type,omitempty" enum:"daily,monthly,temporary"`
	SectorID       *string `json:"sector_id,omitempty"`
	Deadline       *string `json:"deadline,omitempty" format:"date-time"`
	Urgency        *string `json:"urgency,omitempty" enum:"not_urgent,relatively_urgent,urgent"`
	Status         *string `json:"status,omitempty" enum:"pending,delivered,not_delivered"`
	CEOObservation *string `json:"ceo_observation,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status      string  `json:"status" enum:"pending,delivered,not_delivered"`
	Observation *string `json:"observation,omitempty"`
}

// Response payloads

type AccountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProfileResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"ceo,collaborator"`
	FullName  string `json:"full_name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt string          `json:"expires_at" format:"date-time"`
	Account   AccountResponse `json:"account"`
	Profile   ProfileResponse `json:"profile"`
}

type SectorResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Type           string  `json:"type" enum:"daily,monthly,temporary"`
	SectorID       string  `json:"sector_id"`
	SectorName     string  `json:"sector_name,omitempty"`
	Deadline       string  `json:"deadline" format:"date-time"`
	Urgency        string  `json:"urgency" enum:"not_urgent,relatively_urgent,urgent"`
	Status         string  `json:"status" enum:"pending,delivered,not_delivered"`
	CEOObservation *string `json:"ceo_observation,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type TaskHistoryResponse struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	OldStatus   *string `json:"old_status,omitempty" enum:"pending,delivered,not_delivered"`
	NewStatus   string  `json:"new_status" enum:"pending,delivered,not_delivered"`
	Observation *string `json:"observation,omitempty"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// Mappers

func accountResponse(a domain.Account) AccountResponse {
	return AccountResponse{ID: a.ID, Email: a.Email, CreatedAt: a.CreatedAt}
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{ID: p.ID, Role: p.Role, FullName: p.FullName, CreatedAt: p.CreatedAt}
}

func sectorResponse(s domain.Sector) SectorResponse {
	return SectorResponse{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt}
}

func mapSectors(items []domain.Sector) []SectorResponse {
	res := make([]SectorResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sectorResponse(s))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		Type:           t.Type,
		SectorID:       t.SectorID,
		SectorName:     t.SectorName,
		Deadline:       t.Deadline,
		Urgency:        t.Urgency,
		Status:         t.Status,
		CEOObservation: t.CEOObservation,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func historyResponse(h domain.TaskHistory) TaskHistoryResponse {
	return TaskHistoryResponse{
		ID:          h.ID,
		TaskID:      h.TaskID,
		OldStatus:   h.OldStatus,
		NewStatus:   h.NewStatus,
		Observation: h.Observation,
		UpdatedAt:   h.UpdatedAt,
	}
}

func mapHistory(items []domain.TaskHistory) []TaskHistoryResponse {
	res := make([]TaskHistoryResponse, 0, len(items))
	for _, h := range items {
		res = append(res, historyResponse(h))
	}
	return res
}
