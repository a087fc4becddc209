// Package postgres implements the job store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claimable listing, conditional-update atomic
// claim, a partial unique index enforcing live idempotency keys, and
// embedded SQL migrations.
package postgres
