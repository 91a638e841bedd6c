package database

import "time"

// Project is a shared-project record. The IDE core treats it as an opaque
// descriptor; only PublicID feeds into sandbox path scoping.
type Project struct {
	PublicID  string    `gorm:"primaryKey;size:64" json:"public_id"`
	EditID    string    `gorm:"uniqueIndex;not null;size:64" json:"-"`
	Pass      string    `gorm:"not null" json:"-"`
	Lang      string    `gorm:"not null" json:"lang"`
	TTL       int64     `gorm:"not null;default:0" json:"ttl"` // seconds; <= 0 never expires
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ExpiresAt returns the expiry time and false when the project never expires.
func (p *Project) ExpiresAt() (time.Time, bool) {
	if p.TTL <= 0 {
		return time.Time{}, false
	}
	return p.CreatedAt.Add(time.Duration(p.TTL) * time.Second), true
}

// AnonymousProject is the descriptor of a session opened without a project
// id. It never expires and does not scope the sandbox.
func AnonymousProject() Project {
	return Project{TTL: -1}
}
