package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLocalStore implements sync.LocalStore over the local record tables.
// Snapshots use the canonical field names of the entity schemas.
type GormLocalStore struct {
	db *gorm.DB
}

// NewGormLocalStore creates a new GormLocalStore
func NewGormLocalStore(db *gorm.DB) *GormLocalStore {
	return &GormLocalStore{db: db}
}

// Get loads a local record snapshot by ID
func (s *GormLocalStore) Get(ctx context.Context, entityType sync.EntityType, localID uuid.UUID) (sync.Snapshot, error) {
	switch entityType {
	case sync.EntityTypeCustomer:
		var m models.CustomerModel
		if err := s.db.WithContext(ctx).First(&m, "id = ?", localID).Error; err != nil {
			return nil, mapLocalErr(err)
		}
		return customerSnapshot(&m), nil
	case sync.EntityTypeProduct:
		var m models.ProductModel
		if err := s.db.WithContext(ctx).First(&m, "id = ?", localID).Error; err != nil {
			return nil, mapLocalErr(err)
		}
		return productSnapshot(&m), nil
	case sync.EntityTypeOrder:
		var m models.OrderModel
		if err := s.db.WithContext(ctx).First(&m, "id = ?", localID).Error; err != nil {
			return nil, mapLocalErr(err)
		}
		return orderSnapshot(&m), nil
	default:
		return nil, sync.ErrUnknownEntityType
	}
}

// FindByNaturalKey probes for a local record by its natural key value
func (s *GormLocalStore) FindByNaturalKey(ctx context.Context, entityType sync.EntityType, key string) (uuid.UUID, sync.Snapshot, error) {
	switch entityType {
	case sync.EntityTypeCustomer:
		var m models.CustomerModel
		if err := s.db.WithContext(ctx).First(&m, "email = ?", key).Error; err != nil {
			return uuid.Nil, nil, mapLocalErr(err)
		}
		return m.ID, customerSnapshot(&m), nil
	case sync.EntityTypeProduct:
		var m models.ProductModel
		if err := s.db.WithContext(ctx).First(&m, "sku = ?", key).Error; err != nil {
			return uuid.Nil, nil, mapLocalErr(err)
		}
		return m.ID, productSnapshot(&m), nil
	case sync.EntityTypeOrder:
		var m models.OrderModel
		if err := s.db.WithContext(ctx).First(&m, "order_number = ?", key).Error; err != nil {
			return uuid.Nil, nil, mapLocalErr(err)
		}
		return m.ID, orderSnapshot(&m), nil
	default:
		return uuid.Nil, nil, sync.ErrUnknownEntityType
	}
}

// Upsert inserts or updates a local record. Writes go through the natural-key
// conflict clause so concurrent writers for the same record cannot create
// duplicate rows.
func (s *GormLocalStore) Upsert(ctx context.Context, entityType sync.EntityType, localID uuid.UUID, snapshot sync.Snapshot) (uuid.UUID, error) {
	base := snapshot
	if localID != uuid.Nil {
		// Overlay the incoming fields onto the stored record so a partial
		// snapshot never zeroes untouched columns
		existing, err := s.Get(ctx, entityType, localID)
		if err != nil && !errors.Is(err, sync.ErrLocalRecordNotFound) {
			return uuid.Nil, err
		}
		if existing != nil {
			merged := make(sync.Snapshot, len(existing)+len(snapshot))
			for k, v := range existing {
				merged[k] = v
			}
			for k, v := range snapshot {
				merged[k] = v
			}
			base = merged
		}
	} else {
		localID = uuid.New()
	}

	now := time.Now()
	switch entityType {
	case sync.EntityTypeCustomer:
		m := models.CustomerModel{
			ID:           localID,
			Email:        snapString(base, "email"),
			FirstName:    snapString(base, "first_name"),
			LastName:     snapString(base, "last_name"),
			Phone:        snapString(base, "phone"),
			Address:      snapJSONMap(base, "address"),
			Tags:         snapJSON(base, "tags"),
			DateModified: snapTime(base, now),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "email"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"first_name", "last_name", "phone", "address", "tags", "date_modified", "updated_at",
				}),
			}).
			Create(&m).Error
		if err != nil {
			return uuid.Nil, err
		}
		return s.resolveID(ctx, entityType, snapString(base, "email"), localID)

	case sync.EntityTypeProduct:
		m := models.ProductModel{
			ID:            localID,
			SKU:           snapString(base, "sku"),
			Name:          snapString(base, "name"),
			Price:         snapDecimal(base, "price"),
			StockQuantity: snapInt(base, "stock_quantity"),
			Description:   snapString(base, "description"),
			Categories:    snapJSON(base, "categories"),
			DateModified:  snapTime(base, now),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "sku"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"name", "price", "stock_quantity", "description", "categories", "date_modified", "updated_at",
				}),
			}).
			Create(&m).Error
		if err != nil {
			return uuid.Nil, err
		}
		return s.resolveID(ctx, entityType, snapString(base, "sku"), localID)

	case sync.EntityTypeOrder:
		m := models.OrderModel{
			ID:            localID,
			OrderNumber:   snapString(base, "order_number"),
			Status:        snapString(base, "status"),
			Total:         snapDecimal(base, "total"),
			Currency:      snapString(base, "currency"),
			CustomerEmail: snapString(base, "customer_email"),
			LineItems:     snapJSON(base, "line_items"),
			DateModified:  snapTime(base, now),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if m.Currency == "" {
			m.Currency = "USD"
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "order_number"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"status", "total", "currency", "customer_email", "line_items", "date_modified", "updated_at",
				}),
			}).
			Create(&m).Error
		if err != nil {
			return uuid.Nil, err
		}
		return s.resolveID(ctx, entityType, snapString(base, "order_number"), localID)

	default:
		return uuid.Nil, sync.ErrUnknownEntityType
	}
}

// resolveID re-reads the canonical row ID after an upsert; the conflict path
// keeps the existing row's ID, not the one on the insert model
func (s *GormLocalStore) resolveID(ctx context.Context, entityType sync.EntityType, naturalKey string, fallback uuid.UUID) (uuid.UUID, error) {
	id, _, err := s.FindByNaturalKey(ctx, entityType, naturalKey)
	if err != nil {
		if errors.Is(err, sync.ErrLocalRecordNotFound) {
			return fallback, nil
		}
		return uuid.Nil, err
	}
	return id, nil
}

func mapLocalErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sync.ErrLocalRecordNotFound
	}
	return err
}

// ---------------------------------------------------------------------------
// Snapshot conversion
// ---------------------------------------------------------------------------

func customerSnapshot(m *models.CustomerModel) sync.Snapshot {
	return sync.Snapshot{
		"email":         m.Email,
		"first_name":    m.FirstName,
		"last_name":     m.LastName,
		"phone":         m.Phone,
		"address":       map[string]any(m.Address),
		"tags":          decodeJSONAny(m.Tags),
		"date_modified": m.DateModified,
	}
}

func productSnapshot(m *models.ProductModel) sync.Snapshot {
	return sync.Snapshot{
		"sku":            m.SKU,
		"name":           m.Name,
		"price":          m.Price.String(),
		"stock_quantity": m.StockQuantity,
		"description":    m.Description,
		"categories":     decodeJSONAny(m.Categories),
		"date_modified":  m.DateModified,
	}
}

func orderSnapshot(m *models.OrderModel) sync.Snapshot {
	return sync.Snapshot{
		"order_number":   m.OrderNumber,
		"status":         m.Status,
		"total":          m.Total.String(),
		"currency":       m.Currency,
		"customer_email": m.CustomerEmail,
		"line_items":     decodeJSONAny(m.LineItems),
		"date_modified":  m.DateModified,
	}
}

func decodeJSONAny(data datatypes.JSON) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

func snapString(snap sync.Snapshot, key string) string {
	switch v := snap[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func snapInt(snap sync.Snapshot, key string) int {
	switch v := snap[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}

func snapDecimal(snap sync.Snapshot, key string) decimal.Decimal {
	switch v := snap[key].(type) {
	case decimal.Decimal:
		return v
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	}
	return decimal.Zero
}

func snapTime(snap sync.Snapshot, fallback time.Time) time.Time {
	if t, ok := sync.Snapshot(snap).Timestamp(); ok {
		return t
	}
	return fallback
}

func snapJSON(snap sync.Snapshot, key string) datatypes.JSON {
	v, ok := snap[key]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func snapJSONMap(snap sync.Snapshot, key string) datatypes.JSONMap {
	switch v := snap[key].(type) {
	case map[string]any:
		return datatypes.JSONMap(v)
	case datatypes.JSONMap:
		return v
	default:
		return nil
	}
}

// Ensure GormLocalStore implements LocalStore
var _ sync.LocalStore = (*GormLocalStore)(nil)
