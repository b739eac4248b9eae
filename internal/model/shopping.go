package model

import (
	"slices"
	"time"
)

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Section struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type Store struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	OwnerID       string    `json:"ownerId"`
	SharedWith    []string  `json:"sharedWith"`
	PendingShares []string  `json:"pendingShares"`
	Sections      []Section `json:"sections"`
	Location      *Location `json:"location,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsOwner reports whether userID owns the store.
func (s *Store) IsOwner(userID string) bool {
	return userID != "" && s.OwnerID == userID
}

// HasAccess reports whether userID owns the store or it has been shared with them.
func (s *Store) HasAccess(userID string) bool {
	return s.IsOwner(userID) || (userID != "" && slices.Contains(s.SharedWith, userID))
}

// Section returns the section with the given id.
func (s *Store) Section(id string) (Section, bool) {
	for _, sec := range s.Sections {
		if sec.ID == id {
			return sec, true
		}
	}
	return Section{}, false
}

type ShoppingList struct {
	StoreID   string         `json:"storeId"`
	Items     []ShoppingItem `json:"items"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// CheckedCount returns the number of checked items.
func (l *ShoppingList) CheckedCount() int {
	n := 0
	for _, item := range l.Items {
		if item.Checked {
			n++
		}
	}
	return n
}

type ShoppingItem struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	SectionID string     `json:"sectionId"`
	Checked   bool       `json:"checked"`
	AddedBy   string     `json:"addedBy"`
	AddedAt   time.Time  `json:"addedAt"`
	CheckedAt *time.Time `json:"checkedAt,omitempty"`
}

type LearnedItem struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	Name      string    `json:"name"`
	SectionID string    `json:"sectionId"`
	Frequency int       `json:"frequency"`
	LastUsed  time.Time `json:"lastUsed"`
	CreatedBy string    `json:"createdBy"`
}
