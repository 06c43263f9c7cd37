package conflict

import (
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/erp/sync-engine/internal/domain/sync"
	"github.com/google/uuid"
)

const (
	// numericTolerance is the smallest numeric difference treated as a real
	// divergence; anything below is formatting noise (e.g. "10.00" vs 10)
	numericTolerance = 0.01
	// similarityThreshold is the minimum normalized string similarity under
	// which two strings are considered divergent
	similarityThreshold = 0.95
)

// Detector finds significant field-level divergences between a local and a
// remote snapshot of the same entity. Insignificant differences and one-sided
// values never produce conflicts.
type Detector struct {
	schemas *sync.SchemaRegistry
}

// NewDetector creates a detector over the given schema registry
func NewDetector(schemas *sync.SchemaRegistry) *Detector {
	return &Detector{schemas: schemas}
}

// Detect compares the compared fields of both snapshots (both keyed by
// canonical names) and returns one pending conflict per significant
// divergence.
func (d *Detector) Detect(syncID uuid.UUID, entityType sync.EntityType, entityID uuid.UUID, local, remote sync.Snapshot) ([]*sync.Conflict, error) {
	schema, err := d.schemas.Get(entityType)
	if err != nil {
		return nil, err
	}

	var conflicts []*sync.Conflict
	for _, field := range schema.Fields {
		if !field.Compared {
			continue
		}

		localV, localOK := local[field.Name]
		remoteV, remoteOK := remote[field.Name]
		if isAbsent(localV, localOK) || isAbsent(remoteV, remoteOK) {
			// One-sided values are filled in silently during reconciliation
			continue
		}

		if kindMismatch(localV, remoteV) {
			conflicts = append(conflicts, sync.NewConflict(
				syncID, entityType, entityID, field.Name,
				sync.ConflictTypeTypeMismatch, localV, remoteV,
			))
			continue
		}

		if d.differs(field.Kind, localV, remoteV) {
			conflicts = append(conflicts, sync.NewConflict(
				syncID, entityType, entityID, field.Name,
				sync.ConflictTypeValueMismatch, localV, remoteV,
			))
		}
	}
	return conflicts, nil
}

// differs applies the per-kind significance check
func (d *Detector) differs(kind sync.FieldKind, localV, remoteV any) bool {
	switch kind {
	case sync.FieldKindNumeric:
		lf, lok := toFloat(localV)
		rf, rok := toFloat(remoteV)
		if !lok || !rok {
			return !reflect.DeepEqual(localV, remoteV)
		}
		diff := lf - rf
		if diff < 0 {
			diff = -diff
		}
		return diff >= numericTolerance

	case sync.FieldKindString:
		ls, rs := asString(localV), asString(remoteV)
		if ls == rs {
			return false
		}
		return similarity(ls, rs) < similarityThreshold

	case sync.FieldKindBool:
		return localV != remoteV

	case sync.FieldKindObject, sync.FieldKindArray:
		return !jsonEqual(localV, remoteV)

	default:
		return !reflect.DeepEqual(localV, remoteV)
	}
}

// isAbsent treats missing keys, nils and empty strings as one-sided
func isAbsent(v any, ok bool) bool {
	if !ok || v == nil {
		return true
	}
	if s, isStr := v.(string); isStr && s == "" {
		return true
	}
	return false
}

// kindMismatch reports whether the two values hold incompatible JSON kinds.
// Numeric strings count as numbers so "10.00" never type-conflicts with 10.
func kindMismatch(a, b any) bool {
	return jsonKind(a) != jsonKind(b)
}

func jsonKind(v any) string {
	switch t := v.(type) {
	case bool:
		return "bool"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case string:
		if _, err := strconv.ParseFloat(t, 64); err == nil {
			return "number"
		}
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return reflect.TypeOf(v).String()
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// jsonEqual compares two composite values through their canonical JSON form
func jsonEqual(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	var na, nb any
	if json.Unmarshal(da, &na) != nil || json.Unmarshal(db, &nb) != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// similarity returns the normalized Levenshtein similarity of two strings
// in [0, 1]; 1 means identical
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	dist := prev[lb]
	return 1 - float64(dist)/float64(maxLen)
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
