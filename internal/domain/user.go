package domain

import (
	"context"
	"math"
	"time"
)

// User is the stored identity plus the static health profile captured at sign-up.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Pregnancies  int
	WeightKg     float64
	HeightM      float64
	Age          int
	CreatedAt    time.Time
}

// BMI derives the body mass index from the current weight and height,
// rounded to two decimals. It is computed on every read and never stored.
func (u User) BMI() float64 {
	return round2(u.WeightKg / (u.HeightM * u.HeightM))
}

// NormalizeHeightM interprets values above 3 as centimeters and converts
// them to meters. Values at or below 3 pass through unchanged.
func NormalizeHeightM(height float64) float64 {
	if height > 3 {
		return height / 100
	}
	return height
}

// UserRepository captures persistence operations for users.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
