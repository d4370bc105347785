package catalog

import "github.com/kailas-cloud/recdex/internal/domain"

// Key layout for a collection:
//
//	recdex:{collection}:meta       collection metadata hash
//	recdex:{collection}:item:{id}  one hash per item, covered by the FT index
//	recdex:{collection}:idx        FT index name
func collectionPrefix(collection string) string {
	return domain.KeyPrefix + collection + ":"
}

func metaKey(collection string) string {
	return collectionPrefix(collection) + "meta"
}

func itemPrefix(collection string) string {
	return collectionPrefix(collection) + "item:"
}

func itemKey(collection, id string) string {
	return itemPrefix(collection) + id
}

func indexName(collection string) string {
	return collectionPrefix(collection) + "idx"
}
