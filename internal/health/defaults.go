package health

import "github.com/dmitriimaksimovdevelop/myscope/internal/model"

// DefaultRules returns the built-in rule table. Within a key the critical
// row is declared before the warning row so the stricter verdict wins when
// both hold.
func DefaultRules() []Rule {
	return []Rule{
		// Variables
		{Key: "max_connections", Ratio: "Threads_connected", Op: OpGT, Threshold: "95%", Verdict: model.Critical,
			Reason: "connection usage above 95% of max_connections"},
		{Key: "max_connections", Ratio: "Threads_connected", Op: OpGE, Threshold: "80%", Verdict: model.Warning,
			Reason: "connection usage above 80% of max_connections"},
		{Key: "tmp_table_size", Op: OpLT, Threshold: "16M", Verdict: model.Critical,
			Reason: "in-memory temporary tables spill to disk early"},
		{Key: "tmp_table_size", Op: OpLT, Threshold: "64M", Verdict: model.Warning,
			Reason: "temporary tables may spill to disk"},
		{Key: "max_heap_table_size", Op: OpLT, Threshold: "$tmp_table_size", Verdict: model.Warning,
			Reason: "effective temporary table limit is capped by max_heap_table_size"},
		{Key: "table_open_cache", Op: OpLT, Threshold: "$Open_tables", Verdict: model.Warning,
			Reason: "table cache smaller than open tables"},
		{Key: "table_definition_cache", Op: OpLT, Threshold: "$Open_table_definitions", Verdict: model.Warning,
			Reason: "definition cache smaller than open definitions"},
		{Key: "thread_cache_size", Op: OpEQ, Threshold: "0", Verdict: model.Warning,
			Reason: "every connection creates a new thread"},
		{Key: "wait_timeout", Op: OpLT, Threshold: "60", Verdict: model.Critical,
			Reason: "idle connections are dropped too aggressively"},
		{Key: "wait_timeout", Op: OpLT, Threshold: "300", Verdict: model.Warning,
			Reason: "short idle timeout breaks pooled connections"},
		{Key: "innodb_log_file_size", Op: OpLT, Threshold: "128M", Verdict: model.Critical,
			Reason: "redo log too small, frequent checkpoints"},
		{Key: "innodb_log_file_size", Op: OpLT, Threshold: "512M", Verdict: model.Warning,
			Reason: "redo log may force checkpoints under write load"},
		{Key: "innodb_redo_log_capacity", Op: OpLT, Threshold: "128M", Verdict: model.Critical,
			Reason: "redo log too small, frequent checkpoints"},
		{Key: "innodb_redo_log_capacity", Op: OpLT, Threshold: "512M", Verdict: model.Warning,
			Reason: "redo log may force checkpoints under write load"},
		{Key: "innodb_flush_log_at_trx_commit", Op: OpEQ, Threshold: "0", Verdict: model.Critical,
			Reason: "committed transactions can be lost on crash"},
		{Key: "innodb_flush_log_at_trx_commit", Op: OpEQ, Threshold: "2", Verdict: model.Warning,
			Reason: "up to one second of transactions lost on OS crash"},
		{Key: "sync_binlog", Op: OpEQ, Threshold: "0", Verdict: model.Warning,
			Reason: "binary log is not synced on commit"},
		{Key: "innodb_*_io_threads", Op: OpEQ, Threshold: "0", Verdict: model.Critical,
			Reason: "no background I/O threads"},
		{Key: "innodb_*_io_threads", Op: OpLT, Threshold: "4", Verdict: model.Warning,
			Reason: "fewer than 4 background I/O threads"},

		// Status
		{Key: "Table_open_cache_overflows", Op: OpGT, Threshold: "0", Verdict: model.Critical,
			Reason: "table cache overflowed"},

		// Replication
		{Key: "*_IO_Running", Op: OpNE, Threshold: "Yes", Verdict: model.Critical,
			Reason: "replication I/O thread is not running"},
		{Key: "*_SQL_Running", Op: OpNE, Threshold: "Yes", Verdict: model.Critical,
			Reason: "replication SQL thread is not running"},
		{Key: "Seconds_Behind_*", Op: OpGT, Threshold: "300", Verdict: model.Critical,
			Reason: "replica more than 5 minutes behind"},
		{Key: "Seconds_Behind_*", Op: OpGT, Threshold: "60", Verdict: model.Warning,
			Reason: "replica more than a minute behind"},

		// InnoDB monitor
		{Key: "BUFFER POOL AND MEMORY/hit_rate", Op: OpLT, Threshold: "90%", Verdict: model.Critical,
			Reason: "buffer pool hit rate below 90%"},
		{Key: "BUFFER POOL AND MEMORY/hit_rate", Op: OpLT, Threshold: "99%", Verdict: model.Warning,
			Reason: "buffer pool hit rate below 99%"},
		{Key: "TRANSACTIONS/history_list_length", Op: OpGT, Threshold: "1000000", Verdict: model.Critical,
			Reason: "purge is far behind"},
		{Key: "TRANSACTIONS/history_list_length", Op: OpGT, Threshold: "100000", Verdict: model.Warning,
			Reason: "purge is lagging"},
		{Key: "TRANSACTIONS/lock_waits", Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "transactions waiting on row locks"},
		{Key: "LATEST DETECTED DEADLOCK/deadlock_detected", Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "a deadlock was recorded"},

		// Process list aggregates
		{Key: "long_running", Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "sessions running longer than the long-running threshold"},

		// Counter movement between two captures
		{Key: "Aborted_connects", Target: TargetDelta, Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "failed connection attempts increased"},
		{Key: "Aborted_clients", Target: TargetDelta, Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "clients disconnected without closing"},
		{Key: "Created_tmp_disk_tables", Target: TargetDelta, Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "temporary tables spilled to disk"},
		{Key: "Innodb_row_lock_waits", Target: TargetDelta, Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "row lock waits increased"},
		{Key: "Slow_queries", Target: TargetDelta, Op: OpGT, Threshold: "0", Verdict: model.Warning,
			Reason: "slow queries increased"},
		{Key: "Innodb_buffer_pool_wait_free", Target: TargetDelta, Op: OpGT, Threshold: "0", Verdict: model.Critical,
			Reason: "buffer pool ran out of free pages"},
	}
}
