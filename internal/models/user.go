package models

import (
	"strconv"
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

const (
	CarStatusPending  = "pending"
	CarStatusApproved = "approved"
	CarStatusRejected = "rejected"
)

// Car is a listing that can be inspected. Only approved, active cars are bookable.
type Car struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"ownerId"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year"`
	Status    string    `json:"status"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Car) IsBookable() bool {
	return c != nil && c.IsActive && c.Status == CarStatusApproved
}

// Title is used in notification texts.
func (c *Car) Title() string {
	if c == nil {
		return ""
	}
	if c.Year > 0 {
		return c.Make + " " + c.Model + " (" + strconv.Itoa(c.Year) + ")"
	}
	return c.Make + " " + c.Model
}
