package models

import "time"

// User is a pre-provisioned account. Registration is closed; accounts are
// created by the seeder or by an administrator directly in the store.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
