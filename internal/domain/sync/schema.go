package sync

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownEntityType   = errors.New("sync: unknown entity type")
	ErrLocalRecordNotFound = errors.New("sync: local record not found")
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType identifies a synchronizable entity class
type EntityType string

const (
	EntityTypeCustomer EntityType = "customer"
	EntityTypeProduct  EntityType = "product"
	EntityTypeOrder    EntityType = "order"
)

// IsValid returns true if the entity type is valid
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeCustomer, EntityTypeProduct, EntityTypeOrder:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// AllEntityTypes returns every synchronizable entity type in pull order
func AllEntityTypes() []EntityType {
	return []EntityType{EntityTypeCustomer, EntityTypeProduct, EntityTypeOrder}
}

// ---------------------------------------------------------------------------
// Field schema
// ---------------------------------------------------------------------------

// FieldKind describes how a field participates in conflict detection
type FieldKind string

const (
	FieldKindString    FieldKind = "string"
	FieldKindNumeric   FieldKind = "numeric"
	FieldKindBool      FieldKind = "bool"
	FieldKindTimestamp FieldKind = "timestamp"
	FieldKindObject    FieldKind = "object"
	FieldKindArray     FieldKind = "array"
)

// FieldDef describes one logical field of an entity type
type FieldDef struct {
	// Name is the canonical (local) field name
	Name string
	// RemoteName is the field name on the platform; empty means same as Name
	RemoteName string
	// Kind drives significance checks and merge behavior
	Kind FieldKind
	// Compared indicates the field participates in conflict detection
	Compared bool
}

// remoteKey returns the platform-side key for this field
func (f FieldDef) remoteKey() string {
	if f.RemoteName != "" {
		return f.RemoteName
	}
	return f.Name
}

// EntitySchema is the per-entity-type field map driving detection and mapping
type EntitySchema struct {
	EntityType EntityType
	// NaturalKey is the field used to probe for an existing local record
	// when no mapping exists yet (e.g. customer email, product sku).
	NaturalKey string
	Fields     []FieldDef
}

// Field returns the field definition by canonical name
func (s EntitySchema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// ToLocal translates a remote field map into canonical local names
func (s EntitySchema) ToLocal(remote Snapshot) Snapshot {
	out := make(Snapshot, len(s.Fields))
	for _, f := range s.Fields {
		if v, ok := remote[f.remoteKey()]; ok {
			out[f.Name] = v
		}
	}
	return out
}

// Coerce repairs a snapshot's values toward their declared field kinds:
// numeric strings become numbers, boolean-shaped values become booleans and
// string fields are trimmed. The repair is deterministic; fields that cannot
// be repaired are left untouched. Returns whether anything changed.
func (s EntitySchema) Coerce(snap Snapshot) (Snapshot, bool) {
	out := make(Snapshot, len(snap))
	for k, v := range snap {
		out[k] = v
	}

	changed := false
	for _, f := range s.Fields {
		v, ok := out[f.Name]
		if !ok {
			continue
		}
		if repaired, ok := coerceValue(f.Kind, v); ok {
			out[f.Name] = repaired
			changed = true
		}
	}
	return out, changed
}

// coerceValue repairs one value toward a field kind. The second return is
// true only when the value actually changed.
func coerceValue(kind FieldKind, v any) (any, bool) {
	switch kind {
	case FieldKindNumeric:
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n, true
			}
		}
	case FieldKindBool:
		switch t := v.(type) {
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, true
			}
		case float64:
			return t != 0, true
		case int:
			return t != 0, true
		}
	case FieldKindString:
		if s, ok := v.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != s {
				return trimmed, true
			}
		}
	}
	return v, false
}

// ToRemote translates a canonical local field map into platform names
func (s EntitySchema) ToRemote(local Snapshot) Snapshot {
	out := make(Snapshot, len(s.Fields))
	for _, f := range s.Fields {
		if v, ok := local[f.Name]; ok {
			out[f.remoteKey()] = v
		}
	}
	return out
}

// SchemaRegistry resolves entity schemas by type
type SchemaRegistry struct {
	schemas map[EntityType]EntitySchema
}

// NewSchemaRegistry creates a registry with the given schemas
func NewSchemaRegistry(schemas ...EntitySchema) *SchemaRegistry {
	reg := &SchemaRegistry{schemas: make(map[EntityType]EntitySchema, len(schemas))}
	for _, s := range schemas {
		reg.schemas[s.EntityType] = s
	}
	return reg
}

// Get returns the schema for an entity type
func (r *SchemaRegistry) Get(entityType EntityType) (EntitySchema, error) {
	s, ok := r.schemas[entityType]
	if !ok {
		return EntitySchema{}, ErrUnknownEntityType
	}
	return s, nil
}

// DefaultSchemaRegistry returns the built-in schemas for the supported
// entity types. Platform field names follow the remote REST conventions.
func DefaultSchemaRegistry() *SchemaRegistry {
	return NewSchemaRegistry(
		EntitySchema{
			EntityType: EntityTypeCustomer,
			NaturalKey: "email",
			Fields: []FieldDef{
				{Name: "email", Kind: FieldKindString, Compared: true},
				{Name: "first_name", Kind: FieldKindString, Compared: true},
				{Name: "last_name", Kind: FieldKindString, Compared: true},
				{Name: "phone", Kind: FieldKindString, Compared: true},
				{Name: "address", RemoteName: "billing", Kind: FieldKindObject, Compared: true},
				{Name: "tags", Kind: FieldKindArray, Compared: true},
				{Name: "date_modified", Kind: FieldKindTimestamp},
			},
		},
		EntitySchema{
			EntityType: EntityTypeProduct,
			NaturalKey: "sku",
			Fields: []FieldDef{
				{Name: "sku", Kind: FieldKindString, Compared: true},
				{Name: "name", Kind: FieldKindString, Compared: true},
				{Name: "price", RemoteName: "regular_price", Kind: FieldKindNumeric, Compared: true},
				{Name: "stock_quantity", Kind: FieldKindNumeric, Compared: true},
				{Name: "description", Kind: FieldKindString, Compared: true},
				{Name: "categories", Kind: FieldKindArray, Compared: true},
				{Name: "date_modified", Kind: FieldKindTimestamp},
			},
		},
		EntitySchema{
			EntityType: EntityTypeOrder,
			NaturalKey: "order_number",
			Fields: []FieldDef{
				{Name: "order_number", RemoteName: "number", Kind: FieldKindString, Compared: true},
				{Name: "status", Kind: FieldKindString, Compared: true},
				{Name: "total", Kind: FieldKindNumeric, Compared: true},
				{Name: "currency", Kind: FieldKindString, Compared: true},
				{Name: "customer_email", Kind: FieldKindString, Compared: true},
				{Name: "line_items", Kind: FieldKindArray, Compared: true},
				{Name: "date_modified", Kind: FieldKindTimestamp},
			},
		},
	)
}

// ---------------------------------------------------------------------------
// Snapshots and ports
// ---------------------------------------------------------------------------

// Snapshot is a flat field map of one record at a point in time, keyed by
// canonical field names on the local side and platform names on the remote
// side (EntitySchema translates between them).
type Snapshot map[string]any

// Timestamp extracts the modification timestamp from a snapshot, if present
func (s Snapshot) Timestamp() (time.Time, bool) {
	v, ok := s["date_modified"]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// LocalStore is the port to the internal system of record. Upsert must use
// the database's atomic insert-or-update-on-conflict primitive.
type LocalStore interface {
	// Get loads a local record snapshot by ID
	Get(ctx context.Context, entityType EntityType, localID uuid.UUID) (Snapshot, error)

	// FindByNaturalKey probes for a local record by its natural key value.
	// Returns ErrLocalRecordNotFound when no record matches.
	FindByNaturalKey(ctx context.Context, entityType EntityType, key string) (uuid.UUID, Snapshot, error)

	// Upsert inserts or updates a local record. A nil localID inserts a new
	// record; the (possibly new) local ID is returned.
	Upsert(ctx context.Context, entityType EntityType, localID uuid.UUID, snapshot Snapshot) (uuid.UUID, error)
}

// RemoteRecord is one record fetched from the platform
type RemoteRecord struct {
	ID           int64
	DateModified time.Time
	Fields       Snapshot
}

// RemotePlatform is the port to the remote e-commerce REST API
type RemotePlatform interface {
	// List returns one page of records; a short page signals the end
	List(ctx context.Context, entityType EntityType, page, pageSize int) ([]RemoteRecord, error)

	// Get fetches a single record by remote ID
	Get(ctx context.Context, entityType EntityType, remoteID int64) (*RemoteRecord, error)

	// Update pushes field changes to an existing remote record
	Update(ctx context.Context, entityType EntityType, remoteID int64, fields Snapshot) error

	// Create creates a new remote record and returns it
	Create(ctx context.Context, entityType EntityType, fields Snapshot) (*RemoteRecord, error)
}
