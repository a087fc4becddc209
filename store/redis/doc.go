// Package redis implements the job store on Redis for deployments that
// run the pipeline without Postgres. Jobs are stored as msgpack blobs,
// per-operation Sorted Sets order claimable work oldest-first, and the
// pending-to-processing claim runs as a Lua script so any number of
// worker processes can share one Redis.
//
// The caller owns the Redis client lifecycle — the store never closes it:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
