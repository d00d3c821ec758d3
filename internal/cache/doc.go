/*
Package cache provides bounded caches of network resources whose eviction
closes the resource.

sharefs keeps three caches, all instances of ResourceCache:

	sessions  ConnectionIdentity → types.Session   (authenticated connections)
	shares    ShareKey           → types.Share     (buckets, object stores)
	handles   HandleKey          → types.FileHandle (resolved remote paths)

Once inserted, a value belongs to the cache. Callers never close a cached
value themselves; it is closed when it is evicted by capacity, by expiry,
explicitly through Remove/RemoveFunc, or by Purge. Closes run after the cache
lock is released but before the evicting call returns.

GetOrCreate collapses concurrent misses for the same key into a single
factory call using golang.org/x/sync/singleflight.

The LRU bookkeeping itself is github.com/hashicorp/golang-lru/simplelru, used
under the cache's own mutex.
*/
package cache
