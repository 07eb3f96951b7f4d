// Package cache stores small upstream responses for short periods.
//
// Two backends implement ResponseCache: a bounded in-process LRU and a
// Redis store shared between gateway replicas. Entries expire on read
// once their age exceeds the TTL they were stored with.
//
//	c, err := cache.New(&cfg.Cache, logger)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	key := cache.Key("users", "http://users-1:8080/v1/users?page=2")
//	if entry, ok := c.Get(ctx, key); ok {
//	    // serve entry
//	}
package cache
