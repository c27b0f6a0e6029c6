package models

import (
	"time"
	_ "time/tzdata" // user timezones must resolve on hosts without zoneinfo
)

// Profile is the per-user account record. There is exactly one row per owner id.
type Profile struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Email     *string   `json:"email"`
	FullName  *string   `json:"full_name"`
	Username  *string   `gorm:"uniqueIndex;size:30" json:"username"`
	AvatarURL *string   `json:"avatar_url"`
	Timezone  *string   `gorm:"size:64" json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the profile timezone, falling back to UTC when unset or unknown.
func (p *Profile) Location() *time.Location {
	if p == nil || p.Timezone == nil || *p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(*p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
