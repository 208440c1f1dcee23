package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// TokenBalance mirrors the token_balances table.
type TokenBalance struct {
	UserID      string    `gorm:"primaryKey;size:255"`
	Amount      int64     `gorm:"not null;default:0"`
	Plan        string    `gorm:"size:32;not null"`
	RenewalDate time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (TokenBalance) TableName() string { return "token_balances" }

// TokenTransaction mirrors the append-only token_transactions table.
type TokenTransaction struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	UserID      string         `gorm:"size:255;not null;index:idx_token_transactions_user_created,priority:1"`
	Amount      int64          `gorm:"not null"`
	Operation   string         `gorm:"size:64;not null"`
	Description string         `gorm:"not null"`
	Metadata    datatypes.JSON `gorm:""`
	CreatedAt   time.Time      `gorm:"not null;index:idx_token_transactions_user_created,priority:2"`
}

func (TokenTransaction) TableName() string { return "token_transactions" }

// TokenReservation mirrors the token_reservations table.
type TokenReservation struct {
	ReservationID string    `gorm:"primaryKey;size:255"`
	UserID        string    `gorm:"size:255;not null;index"`
	Operation     string    `gorm:"size:64;not null"`
	Amount        int64     `gorm:"not null"`
	Status        string    `gorm:"size:16;not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (TokenReservation) TableName() string { return "token_reservations" }

// Models lists every table the store needs, in migration order.
func Models() []any {
	return []any{&TokenBalance{}, &TokenTransaction{}, &TokenReservation{}}
}
