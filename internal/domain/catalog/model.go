// Package catalog holds the price lists: medical services and medications.
// Both share one shape and one implementation over different tables.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Item is a billable catalog entry.
type Item struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Unit      string    `db:"unit" json:"unit"`
	UnitPrice int64     `db:"unit_price" json:"unit_price"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Kind names a catalog.
type Kind string

const (
	KindService    Kind = "service"
	KindMedication Kind = "medication"
)

var tables = map[Kind]string{
	KindService:    "medical_service",
	KindMedication: "medication",
}
