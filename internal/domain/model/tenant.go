package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a read-only projection of the restaurant directory. This
// service never writes tenant rows.
type Tenant struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `gorm:"not null;size:200" json:"name"`
	ContactEmail string    `gorm:"not null;size:200" json:"contact_email"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (Tenant) TableName() string {
	return "tenants"
}
