// Package usage implements the daily usage ledger: one counter per
// (user, action, calendar day) that only ever grows.
//
// The only write is Store.Reserve, a single conditional increment that succeeds
// only while the counter is below the cap. Admission and recording are therefore
// one step, and concurrent callers at the boundary cannot both be admitted no
// matter how many service instances share the store.
//
// Days are calendar days in one fixed reference location (America/Sao_Paulo by
// default) applied to every user.
//
// Stores:
//
//   - MemoryStore: single process, tests and local runs.
//   - PostgresStore: INSERT ... ON CONFLICT DO UPDATE ... WHERE count < limit.
//   - RedisStore: a Lua script; counters expire with the retention window.
//   - MongoStore: FindOneAndUpdate with a count < limit filter and upsert.
//
// Past days are immutable, so a Pruner can archive and delete them after the
// retention window without racing writers.
package usage
