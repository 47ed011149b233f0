// Package cache implements the request-scoped (L0), embedding (L3) and
// semantic query caches, plus the canonical cache-key construction shared
// by every tier. The distributed L1 backend itself lives in store/redis.
package cache

import (
	"fmt"

	"github.com/recallio/recall"
)

// Key prefixes. Changing any of these invalidates every derived entry.
const (
	searchPrefix    = "search"
	embeddingPrefix = "embedding"
	favoritePrefix  = "user_favorite"
	stmPrefix       = "stm"
	semanticPrefix  = "semantic_cache"
)

// SearchKey builds the canonical search-result key:
// "search:{userID}:{md5(query)}:version:{versionTag}". The version tag is
// the per-user invalidation salt; when the user has no tag yet the empty
// string is used.
func SearchKey(userID, query, version string) string {
	return SearchKeyFromHash(userID, recall.MD5Hex(query), version)
}

// SearchKeyFromHash is SearchKey for an already-hashed query. The semantic
// cache stores query hashes, not query texts, so the approximate path
// rebuilds keys from hashes.
func SearchKeyFromHash(userID, queryHash, version string) string {
	return fmt.Sprintf("%s:%s:%s:version:%s", searchPrefix, userID, queryHash, version)
}

// EmbeddingKey builds the L3 key "embedding:{md5(text)}".
// Embeddings are user-independent, so the key carries no user component.
func EmbeddingKey(text string) string {
	return fmt.Sprintf("%s:%s", embeddingPrefix, recall.MD5Hex(text))
}

// FavoriteKey builds the warm favourite-summary key "user_favorite:{userID}".
func FavoriteKey(userID string) string {
	return fmt.Sprintf("%s:%s", favoritePrefix, userID)
}

// STMKey builds the short-term-memory state key "stm:{sessionID}".
func STMKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", stmPrefix, sessionID)
}

// SemanticQueriesKey builds the per-user cached-query-vector list key.
func SemanticQueriesKey(userID string) string {
	return fmt.Sprintf("%s:queries:%s", semanticPrefix, userID)
}

// SemanticResultKey builds the exact-match result key used by the
// semantic cache, keyed by query hash.
func SemanticResultKey(userID, queryHash string) string {
	return fmt.Sprintf("%s:result:%s:%s", semanticPrefix, userID, queryHash)
}

// InvalidationPatterns returns the ScanDel patterns that clear every
// derived entry for a user. Version bumping makes search keys unreachable
// anyway; the sweep reclaims the space.
func InvalidationPatterns(userID string) []string {
	return []string{
		fmt.Sprintf("%s:%s:*", searchPrefix, userID),
		fmt.Sprintf("%s:%s", favoritePrefix, userID),
		fmt.Sprintf("%s:result:%s:*", semanticPrefix, userID),
	}
}
