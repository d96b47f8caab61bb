// Package model defines domain entities used by engines, services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role distinguishes staff devices from student devices.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleStudent Role = "student"
)

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User is an account allowed to talk to the store. Passwords are never stored in plaintext.
type User struct {
	ID          uuid.UUID // PK
	Login       string    // unique
	PwdHash     string    // encoded Argon2id hash
	IntraID     string    // 42 intra id, used as studentId/staffId in the store
	DisplayName string
	ImageURL    string
	CampusID    string
	Role        Role
	CreatedAt   time.Time
}

// Profile is the non-secret part of a user supplied at registration.
type Profile struct {
	IntraID     string
	DisplayName string
	ImageURL    string
	CampusID    string
	Role        Role
}

// Claims is the verified content of an access token.
type Claims struct {
	UserID   uuid.UUID
	Login    string
	IntraID  string
	CampusID string
	Role     Role
}

// Doc is a versioned JSON document addressed by a slash separated key.
type Doc struct {
	Key       string
	Value     any   // JSON tree (map[string]any, []any, float64, string, bool)
	Ver       int64 // monotonically increasing version (>= 1 once written)
	Seq       int64 // global change sequence of the last write
	Deleted   bool  // tombstone flag
	UpdatedAt time.Time
}

// DocWrite is a change intent with optimistic concurrency base version.
// BaseVer 0 means the document must not exist yet. A nil Value writes a tombstone.
type DocWrite struct {
	Key     string
	BaseVer int64
	Value   any
}

// DocVersion reports the new version after a successful write.
type DocVersion struct {
	Key    string
	NewVer int64
	Seq    int64
}

// DocChange describes a single document mutation for change feeds.
type DocChange struct {
	Key     string
	Seq     int64
	Deleted bool
}
