package board

import "time"

// Role describes an actor's standing within a session.
type Role string

const (
	// RoleCreator is held by exactly one participant per session, the first joiner.
	RoleCreator Role = "creator"
	// RoleParticipant is every later joiner.
	RoleParticipant Role = "participant"
)

// PermissionMode selects who may perform a session-configurable card action.
type PermissionMode string

const (
	// PermissionCreator restricts the action to the card's creator.
	PermissionCreator PermissionMode = "creator"
	// PermissionEveryone opens the action to any participant.
	PermissionEveryone PermissionMode = "everyone"
)

// Session models a shared board.
type Session struct {
	ID               string         `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	IsLocked         bool           `gorm:"column:is_locked;not null;default:false" json:"isLocked"`
	MovePermission   PermissionMode `gorm:"column:move_permission;not null;default:creator" json:"movePermission"`
	DeletePermission PermissionMode `gorm:"column:delete_permission;not null;default:creator" json:"deletePermission"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	LastActivityAt   time.Time      `gorm:"column:last_activity_at" json:"lastActivityAt"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}

// Card models a positioned sticky note within a session. The votes counter is
// always derived from VotedBy; the two are never updated independently.
type Card struct {
	ID          string              `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SessionID   string              `gorm:"column:session_id;size:190;not null;index" json:"sessionId"`
	Content     string              `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Color       string              `gorm:"column:color;not null;default:#fef08a" json:"color"`
	X           float64             `gorm:"column:x;not null;default:100" json:"x"`
	Y           float64             `gorm:"column:y;not null;default:100" json:"y"`
	Votes       int                 `gorm:"column:votes;not null;default:0" json:"votes"`
	VotedBy     []string            `gorm:"column:voted_by;serializer:json" json:"votedBy"`
	Reactions   map[string][]string `gorm:"column:reactions;serializer:json" json:"reactions"`
	CreatedByID string              `gorm:"column:created_by_id;size:190;not null;index" json:"createdById"`
	UpdatedAt   time.Time           `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Card) TableName() string {
	return "cards"
}

// HasVoted reports whether the actor is currently in the card's voter set.
func (c Card) HasVoted(actorID string) bool {
	for _, voter := range c.VotedBy {
		if voter == actorID {
			return true
		}
	}
	return false
}

// User models an anonymous fingerprint-identified visitor. The username is
// global, not per-session.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Username  string    `gorm:"column:username;not null" json:"username"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Participant is the join record between a user and a session.
type Participant struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	SessionID    string    `gorm:"column:session_id;primaryKey;size:190;not null" json:"sessionId"`
	Role         Role      `gorm:"column:role;not null;default:participant" json:"role"`
	JoinedAt     time.Time `gorm:"column:joined_at;autoCreateTime" json:"joinedAt"`
	LastActiveAt time.Time `gorm:"column:last_active_at" json:"lastActiveAt"`
}

// TableName provides the explicit table binding for GORM.
func (Participant) TableName() string {
	return "session_participants"
}

// ParticipantInfo is the roster entry returned to clients: explicit
// participants plus derived ones (card creators without a join record).
type ParticipantInfo struct {
	ActorID  string `json:"actorId"`
	Username string `json:"username"`
}

// CardPatch carries a partial card update. Nil fields are left untouched;
// each non-nil field is permission-checked independently by the gateway.
type CardPatch struct {
	Content *string
	Color   *string
	X       *float64
	Y       *float64
}

// SettingsPatch carries a partial session settings update.
type SettingsPatch struct {
	IsLocked         *bool
	MovePermission   *PermissionMode
	DeletePermission *PermissionMode
}

// VoteAction reports how a vote toggle resolved.
type VoteAction string

const (
	VoteAdded   VoteAction = "added"
	VoteRemoved VoteAction = "removed"
	VoteDenied  VoteAction = "denied"
)
