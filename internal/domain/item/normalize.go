package item

import (
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Record field names shared by the source format and the index.
const (
	FieldID            = "id"
	FieldName          = "name"
	FieldDescription   = "description"
	FieldType          = "type"
	FieldEffects       = "effects"
	FieldIngredients   = "ingredients"
	FieldPrice         = "price"
	FieldSalesVelocity = "sales_velocity"
)

// Defaults are the fallbacks applied to missing or malformed fields.
type Defaults struct {
	ID          string
	Name        string
	Description string
	Type        string
	Price       float64
}

// ReadDefaults apply to records read back from the index at query time.
// Price is positive so inverse-price scoring never sees a placeholder zero.
var ReadDefaults = Defaults{
	ID:          UnknownID,
	Name:        "Unknown Product",
	Description: "No description available.",
	Type:        "Unknown Type",
	Price:       1.0,
}

// WriteDefaults apply to source records at ingestion time, where a real price is expected.
var WriteDefaults = Defaults{
	ID:          UnknownID,
	Name:        "Unknown Product",
	Description: "",
	Type:        "Unknown Type",
	Price:       0.0,
}

// Normalize builds a complete Item from an untyped record. It never fails.
func Normalize(raw map[string]any, d Defaults) Item {
	it := Item{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		Type:          d.Type,
		Effects:       []string{},
		Ingredients:   []string{},
		Price:         d.Price,
		SalesVelocity: 0,
	}

	if id, ok := ToID(raw[FieldID]); ok {
		it.ID = id
	}
	if s, ok := raw[FieldName].(string); ok {
		it.Name = s
	}
	if s, ok := raw[FieldDescription].(string); ok {
		it.Description = s
	}
	if s, ok := raw[FieldType].(string); ok {
		it.Type = s
	}
	if l, ok := ToStrings(raw[FieldEffects]); ok {
		it.Effects = l
	}
	if l, ok := ToStrings(raw[FieldIngredients]); ok {
		it.Ingredients = l
	}
	if f, ok := ToFloat(raw[FieldPrice]); ok {
		it.Price = f
	}
	if f, ok := ToFloat(raw[FieldSalesVelocity]); ok {
		it.SalesVelocity = f
	}

	return it
}

// NormalizeScored applies ReadDefaults and returns a Scored with zero scores.
func NormalizeScored(raw map[string]any) Scored {
	return Scored{Item: Normalize(raw, ReadDefaults)}
}

// Defaulted lists the fields of raw that Normalize would replace with a default.
func Defaulted(raw map[string]any) []string {
	var out []string
	if _, ok := ToID(raw[FieldID]); !ok {
		out = append(out, FieldID)
	}
	for _, f := range []string{FieldName, FieldDescription, FieldType} {
		if _, ok := raw[f].(string); !ok {
			out = append(out, f)
		}
	}
	for _, f := range []string{FieldEffects, FieldIngredients} {
		if _, ok := ToStrings(raw[f]); !ok {
			out = append(out, f)
		}
	}
	for _, f := range []string{FieldPrice, FieldSalesVelocity} {
		if _, ok := ToFloat(raw[f]); !ok {
			out = append(out, f)
		}
	}
	return out
}

// ToID coerces strings and integral numbers into an identifier.
func ToID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		f, err := t.Float64()
		if err != nil {
			return "", false
		}
		return ToID(f)
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// ToFloat coerces numeric kinds and numeric strings. NaN and Inf are rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToStrings coerces list-shaped values. A string holding a JSON array counts as a list,
// since that is how list fields are stored in index hashes.
func ToStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	case string:
		if !strings.HasPrefix(strings.TrimSpace(t), "[") {
			return nil, false
		}
		var out []string
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, false
		}
		if out == nil {
			out = []string{}
		}
		return out, true
	default:
		return nil, false
	}
}
