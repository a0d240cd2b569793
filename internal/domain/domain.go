package domain

// Roles assigned to profiles at registration time.
const (
	RoleCEO          = "ceo"
	RoleCollaborator = "collaborator"
)

// Task type, urgency and status enumerations.
const (
	TaskTypeDaily     = "daily"
	TaskTypeMonthly   = "monthly"
	TaskTypeTemporary = "temporary"

	UrgencyNotUrgent        = "not_urgent"
	UrgencyRelativelyUrgent = "relatively_urgent"
	UrgencyUrgent           = "urgent"

	StatusPending      = "pending"
	StatusDelivered    = "delivered"
	StatusNotDelivered = "not_delivered"
)

func ValidTaskType(s string) bool {
	return s == TaskTypeDaily || s == TaskTypeMonthly || s == TaskTypeTemporary
}

func ValidUrgency(s string) bool {
	return s == UrgencyNotUrgent || s == UrgencyRelativelyUrgent || s == UrgencyUrgent
}

func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusDelivered || s == StatusNotDelivered
}

func ValidRole(s string) bool {
	return s == RoleCEO || s == RoleCollaborator
}

// Account is an identity-store user account. PasswordHash never leaves
// the repo/identity layer.
type Account struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Profile is the authorization record attached 1:1 to an account. It is
// the sole source of truth for role checks.
type Profile struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"ceo,collaborator"`
	FullName  string `json:"full_name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Session is an active sign-in for an account.
type Session struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	TokenHash string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type Sector struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
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

// TaskHistory is one append-only audit row per observed status
// transition. Written only by the engine's write-path hook.
type TaskHistory struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	OldStatus   *string `json:"old_status,omitempty" enum:"pending,delivered,not_delivered"`
	NewStatus   string  `json:"new_status" enum:"pending,delivered,not_delivered"`
	Observation *string `json:"observation,omitempty"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}
