package domain

// KeyPrefix namespaces every key recdex writes to the store.
const KeyPrefix = "recdex:"

// DefaultCollection is the catalog collection name used when none is configured.
const DefaultCollection = "products"
