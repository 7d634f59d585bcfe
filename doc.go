/*
Package tsdbcompactor is a background compaction core for a columnar
time-series store.

It periodically rewrites a table partition's small, overlapping,
just-ingested files into fewer, larger, non-overlapping ones, in two
modes: a hot path that keeps recently-ingested partitions within a
memory budget, and a cold path that eventually folds every partition's
files down to one non-overlapping level regardless of ingest rate.

The core treats the catalog (partition/file/tombstone metadata), the
object store (the files themselves) and the query execution engine (the
merge/dedup/filter pipeline) as external collaborators behind narrow
interfaces; internal/catalog, internal/objectstore and internal/engine
each ship an in-process implementation so the core is runnable without
external services, alongside the interfaces real deployments would
implement against bbolt, S3, or a distributed query engine.

# Pipeline

internal/filelookup groups a partition's live files by compaction
level. internal/filefilter decides which of those files a combine pass
should touch and what level the result should land at. internal/
combiner runs the merge/dedup/split pipeline (or, for an already-
isolated singleton, a level promotion with no rewrite) and atomically
swaps its output into the catalog. internal/selector ranks partitions
across a shard into hot and cold candidate queues. internal/handler
drives the loop: tick, select, admit against a memory budget, dispatch
workers.

# Concurrency

Every exported type here is safe for concurrent use unless documented
otherwise. The handler bounds concurrent combine work by estimated
memory footprint, not goroutine count.
*/
package tsdbcompactor
