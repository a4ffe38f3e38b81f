package parser

import (
	"os"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
	"github.com/dmitriimaksimovdevelop/myscope/internal/quantity"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(data)
}

func TestParseInnoDBFixture(t *testing.T) {
	snap, err := ParseInnoDB(model.RawText{Text: loadFixture(t, "innodb_status.txt"), Command: "SHOW ENGINE INNODB STATUS"})
	if err != nil {
		t.Fatalf("ParseInnoDB: %v", err)
	}
	if !snap.Diagnostics.Clean() {
		t.Errorf("diagnostics = %+v, want clean", snap.Diagnostics)
	}
	if snap.Kind != model.KindInnoDB {
		t.Errorf("kind = %s", snap.Kind)
	}

	n := func(v int64) quantity.Quantity { return quantity.NewInt(v, quantity.Count) }
	f := func(v float64) quantity.Quantity { return quantity.NewFloat(v, quantity.Count) }
	pct := func(v float64) quantity.Quantity { return quantity.NewFloat(v, quantity.Percent) }

	tests := []struct {
		section, name string
		want          quantity.Quantity
	}{
		{SectionHeader, "timestamp", quantity.NewUnparsed("2024-03-01 12:00:00")},
		{SectionHeader, "averages_interval", quantity.NewInt(20, quantity.Seconds)},
		{SectionBackground, "srv_active", n(120)},
		{SectionBackground, "srv_idle", n(3455)},
		{SectionSemaphores, "os_wait_reservation_count", n(42)},
		{SectionSemaphores, "signal_count", n(40)},
		{SectionSemaphores, "rw_shared_rounds", n(12)},
		{SectionSemaphores, "rw_excl_os_waits", n(1)},
		{SectionDeadlock, "deadlock_detected", n(1)},
		{SectionTransactions, "trx_id_counter", n(5010)},
		{SectionTransactions, "purge_trx_id", n(5005)},
		{SectionTransactions, "history_list_length", n(17)},
		{SectionTransactions, "total_transactions", n(2)},
		{SectionTransactions, "not_started", n(1)},
		{SectionTransactions, "active_transactions", n(1)},
		{SectionTransactions, "lock_waits", n(1)},
		{SectionFileIO, "os_file_reads", n(855)},
		{SectionFileIO, "os_file_writes", n(165)},
		{SectionFileIO, "os_fsyncs", n(35)},
		{SectionFileIO, "reads_per_sec", f(1.5)},
		{SectionFileIO, "writes_per_sec", f(0.25)},
		{SectionFileIO, "pending_reads", n(3)},
		{SectionFileIO, "pending_writes", n(1)},
		{SectionFileIO, "io_threads", n(4)},
		{SectionInsertBuffer, "ibuf_size", n(1)},
		{SectionInsertBuffer, "ibuf_seg_size", n(2)},
		{SectionInsertBuffer, "hash_table_size", n(34679)},
		{SectionInsertBuffer, "non_hash_searches_per_sec", f(2.5)},
		{SectionLog, "log_sequence_number", n(19114120)},
		{SectionLog, "log_flushed_up_to", n(19114000)},
		{SectionLog, "last_checkpoint", n(19110000)},
		{SectionLog, "log_ios_done", n(12)},
		{SectionLog, "checkpoint_age", n(4120)},
		{SectionBufferPool, "pool_size", n(8192)},
		{SectionBufferPool, "free_buffers", n(7000)},
		{SectionBufferPool, "database_pages", n(1000)},
		{SectionBufferPool, "modified_pages", n(50)},
		{SectionBufferPool, "pages_written", n(300)},
		{SectionBufferPool, "pages_not_made_young", n(7)},
		{SectionBufferPool, "hit_rate", pct(99.5)},
		{SectionBufferPool, "utilization_pct", pct(12.21)},
		{SectionBufferPool, "dirty_pct", pct(0.61)},
		{SectionRowOperations, "read_views_open", n(1)},
		{SectionRowOperations, "rows_read", n(9000)},
		{SectionRowOperations, "reads_per_sec", f(45)},
	}
	for _, tt := range tests {
		got, ok := snap.Fact(tt.section, tt.name)
		if !ok {
			t.Errorf("fact %s/%s missing", tt.section, tt.name)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("fact %s/%s mismatch (-want +got):\n%s", tt.section, tt.name, diff)
		}
	}

	if len(snap.Transactions) != 2 {
		t.Fatalf("got %d transaction excerpts, want 2", len(snap.Transactions))
	}
	if !strings.HasPrefix(snap.Transactions[1], "---TRANSACTION 5009, ACTIVE 12 sec") {
		t.Errorf("second excerpt = %q", snap.Transactions[1])
	}
	if !strings.HasSuffix(snap.Transactions[1], "WHERE id = 7") {
		t.Errorf("second excerpt should run to the end of the section, got %q", snap.Transactions[1])
	}
	if !strings.Contains(snap.Deadlock, "WE ROLL BACK TRANSACTION (2)") {
		t.Errorf("deadlock excerpt = %q", snap.Deadlock)
	}
}

func TestParseInnoDBTwoTransactionsInOrder(t *testing.T) {
	in := "------------\nTRANSACTIONS\n------------\n" +
		"Trx id counter 10\n" +
		"---TRANSACTION 7, ACTIVE 3 sec\nfirst body\n" +
		"---TRANSACTION 8, not started\nsecond body\n"
	snap, err := ParseInnoDB(model.RawText{Text: in})
	if err != nil {
		t.Fatalf("ParseInnoDB: %v", err)
	}
	want := []string{
		"---TRANSACTION 7, ACTIVE 3 sec\nfirst body",
		"---TRANSACTION 8, not started\nsecond body",
	}
	if diff := cmp.Diff(want, snap.Transactions); diff != "" {
		t.Errorf("transactions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInnoDBUnknownSection(t *testing.T) {
	in := "-------\nFOO BAR\n-------\nLog sequence number 99\nBuffer pool size 5\n" +
		"---\nLOG\n---\nLog sequence number 100\n"
	snap, err := ParseInnoDB(model.RawText{Text: in})
	if err != nil {
		t.Fatalf("ParseInnoDB: %v", err)
	}
	if diff := cmp.Diff([]string{"FOO BAR"}, snap.Diagnostics.UnrecognizedSections); diff != "" {
		t.Errorf("unrecognized sections mismatch (-want +got):\n%s", diff)
	}
	for _, f := range snap.Facts {
		if f.Section == "FOO BAR" {
			t.Errorf("unexpected fact from unknown section: %+v", f)
		}
	}
	lsn, ok := snap.Fact(SectionLog, "log_sequence_number")
	if !ok || lsn.Int != 100 {
		t.Errorf("LOG/log_sequence_number = %+v,%v, want 100", lsn, ok)
	}
}

func TestParseInnoDBBatchWrapped(t *testing.T) {
	plain := loadFixture(t, "innodb_status.txt")
	batch := "Type\tName\tStatus\nInnoDB\t\t" + EscapeBatch(plain) + "\n"

	want, err := ParseInnoDB(model.RawText{Text: plain})
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	got, err := ParseInnoDB(model.RawText{Text: batch})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if diff := cmp.Diff(want.Facts, got.Facts); diff != "" {
		t.Errorf("batch facts differ from plain (-plain +batch):\n%s", diff)
	}
	if len(got.Transactions) != 2 {
		t.Errorf("got %d transactions from batch form, want 2", len(got.Transactions))
	}
}

func TestParseInnoDBMissingFactsDegrade(t *testing.T) {
	in := "----------------------\nBUFFER POOL AND MEMORY\n----------------------\n" +
		"Buffer pool size   100\nNo buffer pool page gets since the last printout\n"
	snap, err := ParseInnoDB(model.RawText{Text: in})
	if err != nil {
		t.Fatalf("ParseInnoDB: %v", err)
	}
	if _, ok := snap.Fact(SectionBufferPool, "hit_rate"); ok {
		t.Error("hit_rate should be absent")
	}
	if _, ok := snap.Fact(SectionBufferPool, "utilization_pct"); ok {
		t.Error("utilization_pct needs database_pages")
	}
	if q, ok := snap.Fact(SectionBufferPool, "pool_size"); !ok || q.Int != 100 {
		t.Errorf("pool_size = %+v,%v", q, ok)
	}
}

func TestParseInnoDBNoBanners(t *testing.T) {
	snap, err := ParseInnoDB(model.RawText{Text: "ERROR 1227 (42000): Access denied\n"})
	if err != nil {
		t.Fatalf("ParseInnoDB should degrade, got %v", err)
	}
	if len(snap.Facts) != 0 {
		t.Errorf("got %d facts, want 0", len(snap.Facts))
	}
	if len(snap.Diagnostics.Notes) != 1 {
		t.Errorf("notes = %v, want one note", snap.Diagnostics.Notes)
	}
}

func TestParseInnoDBEmpty(t *testing.T) {
	_, err := ParseInnoDB(model.RawText{Text: " \n"})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Expected != "innodb status" {
		t.Errorf("err = %#v, want FormatError for innodb status", err)
	}
}
