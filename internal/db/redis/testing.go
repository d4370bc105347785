package redis

import "github.com/redis/rueidis"

// NewStoreForTest wraps an existing rueidis client, typically a rueidis/mock client.
func NewStoreForTest(client rueidis.Client) *Store {
	return &Store{client: client}
}
