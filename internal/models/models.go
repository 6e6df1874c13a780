package models

import "time"

type User struct {
	ID          int64
	Email       string
	PassHash    string
	FirstName   string
	LastName    string
	DateOfBirth string
	Phone       string
	IsVerified  bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is what the external mail sender consumes from the queue.
type Message struct {
	Email   string `json:"to"`
	Link    string `json:"link"`
	Purpose string `json:"purpose"`
}
