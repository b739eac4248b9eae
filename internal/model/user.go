package model

import "time"

type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	APIKeyHash      *string    `json:"-"`
	APIKeyCreatedAt *time.Time `json:"apiKeyCreatedAt,omitempty"`
	APIKeyLastUsed  *time.Time `json:"apiKeyLastUsed,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
