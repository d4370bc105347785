package catalog

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/kailas-cloud/recdex/internal/db"
	"github.com/kailas-cloud/recdex/internal/domain/item"
)

// Internal hash fields. Everything else in an item hash is item metadata.
const (
	fieldContent = "__content"
	fieldVector  = db.DefaultVectorField
)

// metadataFields are returned by KNN queries; the vector and indexed text stay server-side.
var metadataFields = []string{
	item.FieldID,
	item.FieldName,
	item.FieldDescription,
	item.FieldType,
	item.FieldEffects,
	item.FieldIngredients,
	item.FieldPrice,
	item.FieldSalesVelocity,
}

// buildHashFields flattens a document into HSET fields.
// List fields are stored as JSON arrays so they survive the round trip.
func buildHashFields(doc *item.Document) (map[string]string, error) {
	effects, err := json.Marshal(nonNil(doc.Item.Effects))
	if err != nil {
		return nil, err
	}
	ingredients, err := json.Marshal(nonNil(doc.Item.Ingredients))
	if err != nil {
		return nil, err
	}

	return map[string]string{
		item.FieldID:            doc.Item.ID,
		item.FieldName:          doc.Item.Name,
		item.FieldDescription:   doc.Item.Description,
		item.FieldType:          doc.Item.Type,
		item.FieldEffects:       string(effects),
		item.FieldIngredients:   string(ingredients),
		item.FieldPrice:         strconv.FormatFloat(doc.Item.Price, 'f', -1, 64),
		item.FieldSalesVelocity: strconv.FormatFloat(doc.Item.SalesVelocity, 'f', -1, 64),
		fieldContent:            doc.Text,
		fieldVector:             db.VectorToBytes(doc.Vector),
	}, nil
}

// candidateFromEntry exposes a search hit as untyped metadata. Values stay strings;
// the normalizer coerces them on read.
func candidateFromEntry(e *db.SearchEntry) item.Candidate {
	md := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		if k == fieldVector || k == fieldContent {
			continue
		}
		md[k] = v
	}
	return item.Candidate{Metadata: md, Distance: e.Distance}
}

func metaFields(collection string, dim int, now time.Time) map[string]string {
	return map[string]string{
		"name":            collection,
		"distance_metric": string(db.DistanceCosine),
		"vector_dim":      strconv.Itoa(dim),
		"created_at":      strconv.FormatInt(now.UnixMilli(), 10),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
