package redis

// Redis key naming conventions for DocEX pipeline data.
// All keys are prefixed with "docex:" to avoid collisions.

const keyPrefix = "docex:"

// jobKey returns the key for a job blob: docex:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// pendingKey returns the Sorted Set of pending job IDs for one
// operation type, scored by creation time: docex:pending:{operation}
func pendingKey(operation string) string { return keyPrefix + "pending:" + operation }

// idemKey maps a live idempotency key to its job ID: docex:idem:{key}
func idemKey(key string) string { return keyPrefix + "idem:" + key }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
