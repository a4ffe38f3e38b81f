package parser

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/quantity"
)

// factPattern extracts one fact per capture group from the first matching
// line of a section.
type factPattern struct {
	re    *regexp.Regexp
	names []string
	unit  quantity.Unit
}

func pattern(expr string, unit quantity.Unit, names ...string) factPattern {
	return factPattern{re: regexp.MustCompile(expr), names: names, unit: unit}
}

// sectionPatterns maps a section to its single-line recognizers. Recognizers
// are independent: one that finds nothing only leaves its facts absent.
var sectionPatterns = map[string][]factPattern{
	SectionHeader: {
		pattern(`Per second averages calculated from the last (\d+) seconds`, quantity.Seconds, "averages_interval"),
	},
	SectionBackground: {
		pattern(`srv_master_thread loops: (\d+) srv_active, (\d+) srv_shutdown, (\d+) srv_idle`, quantity.Count,
			"srv_active", "srv_shutdown", "srv_idle"),
	},
	SectionSemaphores: {
		pattern(`signal count (\d+)`, quantity.Count, "signal_count"),
		pattern(`RW-shared spins (\d+), rounds (\d+), OS waits (\d+)`, quantity.Count,
			"rw_shared_spins", "rw_shared_rounds", "rw_shared_os_waits"),
		pattern(`RW-excl spins (\d+), rounds (\d+), OS waits (\d+)`, quantity.Count,
			"rw_excl_spins", "rw_excl_rounds", "rw_excl_os_waits"),
	},
	SectionTransactions: {
		pattern(`Trx id counter (\d+)`, quantity.Count, "trx_id_counter"),
		pattern(`Purge done for trx's n:o < (\d+)`, quantity.Count, "purge_trx_id"),
		pattern(`History list length (\d+)`, quantity.Count, "history_list_length"),
	},
	SectionFileIO: {
		pattern(`(\d+) OS file reads`, quantity.Count, "os_file_reads"),
		pattern(`(\d+) OS file writes`, quantity.Count, "os_file_writes"),
		pattern(`(\d+) OS fsyncs`, quantity.Count, "os_fsyncs"),
		pattern(`([\d.]+) reads/s`, quantity.Count, "reads_per_sec"),
		pattern(`([\d.]+) writes/s`, quantity.Count, "writes_per_sec"),
		pattern(`([\d.]+) fsyncs/s`, quantity.Count, "fsyncs_per_sec"),
	},
	SectionInsertBuffer: {
		pattern(`Ibuf: size (\d+), free list len (\d+), seg size (\d+), (\d+) merges`, quantity.Count,
			"ibuf_size", "ibuf_free_list_len", "ibuf_seg_size", "ibuf_merges"),
		pattern(`Hash table size (\d+)`, quantity.Count, "hash_table_size"),
		pattern(`([\d.]+) hash searches/s, ([\d.]+) non-hash searches/s`, quantity.Count,
			"hash_searches_per_sec", "non_hash_searches_per_sec"),
	},
	SectionLog: {
		pattern(`Log sequence number\s+(\d+)`, quantity.Count, "log_sequence_number"),
		pattern(`Log flushed up to\s+(\d+)`, quantity.Count, "log_flushed_up_to"),
		pattern(`Last checkpoint at\s+(\d+)`, quantity.Count, "last_checkpoint"),
		pattern(`(\d+) log i/o's done`, quantity.Count, "log_ios_done"),
	},
	SectionBufferPool: {
		pattern(`Buffer pool size\s+(\d+)`, quantity.Count, "pool_size"),
		pattern(`Free buffers\s+(\d+)`, quantity.Count, "free_buffers"),
		pattern(`Database pages\s+(\d+)`, quantity.Count, "database_pages"),
		pattern(`Modified db pages\s+(\d+)`, quantity.Count, "modified_pages"),
		pattern(`Pending reads\s+(\d+)`, quantity.Count, "pending_reads"),
		pattern(`Pages read (\d+), created (\d+), written (\d+)`, quantity.Count,
			"pages_read", "pages_created", "pages_written"),
		pattern(`Pages made young (\d+), not young (\d+)`, quantity.Count,
			"pages_made_young", "pages_not_made_young"),
	},
	SectionRowOperations: {
		pattern(`(\d+) queries inside InnoDB, (\d+) queries in queue`, quantity.Count,
			"queries_inside", "queries_in_queue"),
		pattern(`(\d+) read views open inside InnoDB`, quantity.Count, "read_views_open"),
		pattern(`Number of rows inserted (\d+), updated (\d+), deleted (\d+), read (\d+)`, quantity.Count,
			"rows_inserted", "rows_updated", "rows_deleted", "rows_read"),
		pattern(`([\d.]+) inserts/s, ([\d.]+) updates/s, ([\d.]+) deletes/s, ([\d.]+) reads/s`, quantity.Count,
			"inserts_per_sec", "updates_per_sec", "deletes_per_sec", "reads_per_sec"),
	},
}

// sectionExtras are recognizers that need more than one matching line or
// facts derived from other facts. They run after the section's patterns.
var sectionExtras = map[string]func(sec Section, b *innodbBuilder){
	SectionHeader:       recognizeHeader,
	SectionSemaphores:   recognizeSemaphores,
	SectionTransactions: recognizeTransactions,
	SectionFileIO:       recognizeFileIO,
	SectionLog:          recognizeLog,
	SectionBufferPool:   recognizeBufferPool,
	SectionDeadlock:     recognizeDeadlock,
}

type innodbBuilder struct {
	snap    *model.InnoDBSnapshot
	section string
}

func (b *innodbBuilder) add(name string, q quantity.Quantity) {
	b.snap.Facts = append(b.snap.Facts, model.InnoDBFact{Section: b.section, Name: name, Value: q})
}

func (b *innodbBuilder) get(name string) (quantity.Quantity, bool) {
	return b.snap.Fact(b.section, name)
}

var (
	batchHeaderRe = regexp.MustCompile(`^Type\tName\tStatus\s*$`)
	batchRowRe    = regexp.MustCompile(`^\w+\t\w*\t`)
)

// unwrapBatch returns the monitor text from mysql --batch output, where the
// whole dump is the Status cell of a single row with newlines escaped.
func unwrapBatch(text string) string {
	lines := splitLines(text)
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start < len(lines) && batchHeaderRe.MatchString(lines[start]) {
		rest := strings.Join(lines[start+1:], "\n")
		if loc := batchRowRe.FindStringIndex(rest); loc != nil {
			rest = rest[loc[1]:]
		}
		return unescapeBatch(strings.TrimRight(rest, "\n"))
	}
	if strings.Count(text, "\n") <= 1 && strings.Contains(text, `\n`) {
		return unescapeBatch(strings.TrimRight(text, "\n"))
	}
	return text
}

// ParseInnoDB parses SHOW ENGINE INNODB STATUS output. It only fails on empty
// input; everything it does not understand is reported in the diagnostics.
func ParseInnoDB(raw model.RawText) (*model.InnoDBSnapshot, error) {
	if strings.TrimSpace(raw.Text) == "" {
		return nil, formatError("innodb status", ErrEmptyInput)
	}

	snap := &model.InnoDBSnapshot{Meta: newMeta(raw, model.KindInnoDB)}
	sections := Split(unwrapBatch(raw.Text))
	banners := 0

	for _, sec := range sections {
		if sec.Name == SectionPreamble {
			continue
		}
		banners++
		if !sec.Known {
			slog.Debug("unrecognized innodb section", "title", sec.Name, "lines", len(sec.Body()))
			snap.Diagnostics.UnrecognizedSections = append(snap.Diagnostics.UnrecognizedSections, sec.Name)
			continue
		}
		b := &innodbBuilder{snap: snap, section: sec.Name}
		applyPatterns(sec, b)
		if extra, ok := sectionExtras[sec.Name]; ok {
			extra(sec, b)
		}
	}

	if banners == 0 {
		snap.Diagnostics.Notes = append(snap.Diagnostics.Notes, "no section banners found")
	}
	return snap, nil
}

func applyPatterns(sec Section, b *innodbBuilder) {
	for _, p := range sectionPatterns[sec.Name] {
		for _, line := range sec.Body() {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			for i, name := range p.names {
				q := quantity.Normalize(m[i+1])
				if q.IsNumeric() && p.unit != quantity.Count {
					q.Unit = p.unit
				}
				b.add(name, q)
			}
			break
		}
	}
}

var (
	monitorTimestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2})`)
	reservationRe      = regexp.MustCompile(`OS WAIT ARRAY INFO: reservation count (\d+)`)
	transactionRe      = regexp.MustCompile(`^---TRANSACTION\b`)
	pendingAioRe       = regexp.MustCompile(`Pending normal aio reads:\s*(?:\d+\s*)?\[([\d, ]*)\].*aio writes:\s*(?:\d+\s*)?\[([\d, ]*)\]`)
	pendingAioPlainRe  = regexp.MustCompile(`Pending normal aio reads:\s*(\d+),\s*aio writes:\s*(\d+)`)
	ioThreadRe         = regexp.MustCompile(`I/O thread \d+ state:`)
	hitRateRe          = regexp.MustCompile(`Buffer pool hit rate (\d+) / (\d+)`)
)

func recognizeHeader(sec Section, b *innodbBuilder) {
	if m := monitorTimestampRe.FindStringSubmatch(sec.Title); m != nil {
		b.add("timestamp", quantity.NewUnparsed(m[1]))
	}
}

func recognizeSemaphores(sec Section, b *innodbBuilder) {
	var total int64
	found := false
	for _, line := range sec.Body() {
		if m := reservationRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.ParseInt(m[1], 10, 64)
			total += n
			found = true
		}
	}
	if found {
		b.add("os_wait_reservation_count", quantity.NewInt(total, quantity.Count))
	}
}

// recognizeTransactions collects one verbatim excerpt per ---TRANSACTION
// marker, running until the next marker or the end of the section.
func recognizeTransactions(sec Section, b *innodbBuilder) {
	var (
		excerpts   []string
		cur        []string
		notStarted int64
		lockWaits  int64
	)
	flush := func() {
		if cur != nil {
			excerpts = append(excerpts, strings.TrimRight(strings.Join(cur, "\n"), "\n"))
			cur = nil
		}
	}
	for _, line := range sec.Body() {
		if transactionRe.MatchString(line) {
			flush()
			cur = []string{line}
			if strings.Contains(line, "not started") {
				notStarted++
			}
			continue
		}
		if strings.Contains(line, "LOCK WAIT") {
			lockWaits++
		}
		if cur != nil {
			cur = append(cur, line)
		}
	}
	flush()

	total := int64(len(excerpts))
	b.snap.Transactions = append(b.snap.Transactions, excerpts...)
	b.add("total_transactions", quantity.NewInt(total, quantity.Count))
	b.add("not_started", quantity.NewInt(notStarted, quantity.Count))
	b.add("active_transactions", quantity.NewInt(total-notStarted, quantity.Count))
	b.add("lock_waits", quantity.NewInt(lockWaits, quantity.Count))
}

func recognizeFileIO(sec Section, b *innodbBuilder) {
	body := sec.Body()
	for _, line := range body {
		if m := pendingAioRe.FindStringSubmatch(line); m != nil {
			b.add("pending_reads", quantity.NewInt(sumList(m[1]), quantity.Count))
			b.add("pending_writes", quantity.NewInt(sumList(m[2]), quantity.Count))
			break
		}
		if m := pendingAioPlainRe.FindStringSubmatch(line); m != nil {
			b.add("pending_reads", quantity.Normalize(m[1]))
			b.add("pending_writes", quantity.Normalize(m[2]))
			break
		}
	}
	var threads int64
	for _, line := range body {
		if ioThreadRe.MatchString(line) {
			threads++
		}
	}
	if threads > 0 {
		b.add("io_threads", quantity.NewInt(threads, quantity.Count))
	}
}

func sumList(s string) int64 {
	var total int64
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err == nil {
			total += n
		}
	}
	return total
}

func recognizeLog(_ Section, b *innodbBuilder) {
	lsn, ok1 := b.get("log_sequence_number")
	cp, ok2 := b.get("last_checkpoint")
	if !ok1 || !ok2 {
		return
	}
	if age, ok := quantity.Sub(lsn, cp); ok {
		b.add("checkpoint_age", age)
	}
}

func recognizeBufferPool(sec Section, b *innodbBuilder) {
	for _, line := range sec.Body() {
		m := hitRateRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, _ := strconv.ParseFloat(m[1], 64)
		den, _ := strconv.ParseFloat(m[2], 64)
		if den > 0 {
			b.add("hit_rate", quantity.NewFloat(round2(num/den*100), quantity.Percent))
		}
		break
	}

	size, ok := b.get("pool_size")
	if !ok || size.Sign() <= 0 {
		return
	}
	total, _ := size.Float64()
	if pages, ok := b.get("database_pages"); ok {
		v, _ := pages.Float64()
		b.add("utilization_pct", quantity.NewFloat(round2(v/total*100), quantity.Percent))
	}
	if dirty, ok := b.get("modified_pages"); ok {
		v, _ := dirty.Float64()
		b.add("dirty_pct", quantity.NewFloat(round2(v/total*100), quantity.Percent))
	}
}

func recognizeDeadlock(sec Section, b *innodbBuilder) {
	b.add("deadlock_detected", quantity.NewInt(1, quantity.Count))
	b.snap.Deadlock = strings.TrimSpace(strings.Join(sec.Body(), "\n"))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
