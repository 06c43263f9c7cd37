package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Local system-of-record tables. The sync engine reads and writes these
// through the snapshot-based store; field names line up with the entity
// schemas so snapshots round-trip without per-entity glue.

// CustomerModel is the local record for a customer.
type CustomerModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primary_key"`
	Email        string            `gorm:"type:varchar(255);not null;uniqueIndex:idx_customer_email"`
	FirstName    string            `gorm:"type:varchar(100)"`
	LastName     string            `gorm:"type:varchar(100)"`
	Phone        string            `gorm:"type:varchar(50)"`
	Address      datatypes.JSONMap `gorm:"type:jsonb"`
	Tags         datatypes.JSON    `gorm:"type:jsonb"`
	DateModified time.Time         `gorm:"not null;index"`
	CreatedAt    time.Time         `gorm:"not null"`
	UpdatedAt    time.Time         `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// ProductModel is the local record for a product.
type ProductModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key"`
	SKU           string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_product_sku"`
	Name          string          `gorm:"type:varchar(255);not null"`
	Price         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	StockQuantity int             `gorm:"not null;default:0"`
	Description   string          `gorm:"type:text"`
	Categories    datatypes.JSON  `gorm:"type:jsonb"`
	DateModified  time.Time       `gorm:"not null;index"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// OrderModel is the local record for an order.
type OrderModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderNumber   string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_order_number"`
	Status        string          `gorm:"type:varchar(30);not null"`
	Total         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'USD'"`
	CustomerEmail string          `gorm:"type:varchar(255);index"`
	LineItems     datatypes.JSON  `gorm:"type:jsonb"`
	DateModified  time.Time       `gorm:"not null;index"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}
