// Package archive stores pruned usage counters as JSON Lines, one object per
// calendar day, before the pruner deletes them.
//
// S3Archiver writes to Amazon S3 or any S3-compatible service; DirArchiver
// writes to a local directory. Both implement usage.Archiver and produce the
// same layout:
//
//	<prefix>/usage/2024-03-01.jsonl
//
// Archiving a day twice overwrites the object, so a prune pass that failed
// after archiving can simply be repeated.
package archive
