package snapshot_test

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/micro-nova/simcontacts/internal/models"
	"github.com/micro-nova/simcontacts/internal/modem"
	"github.com/micro-nova/simcontacts/internal/snapshot"
)

type recorder struct {
	mu    sync.Mutex
	snaps []models.Snapshot
}

func (r *recorder) Publish(s models.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func results(texts ...string) []models.ImportResult {
	out := make([]models.ImportResult, len(texts))
	for i, t := range texts {
		out[i] = models.ImportResult{Handle: modem.Handle("/m" + string(rune('a'+i))), VCard: t}
	}
	return out
}

func TestPublisherInitialSnapshotEmpty(t *testing.T) {
	store := snapshot.NewMemStore("/run/contacts.vcf")
	p := snapshot.NewPublisher(store, nil)

	if p.Contacts() != "" {
		t.Errorf("Contacts() = %q, want empty", p.Contacts())
	}
	if p.HasContacts() {
		t.Error("HasContacts() = true, want false")
	}
	if got, want := p.VCardFile(), "file:///run/contacts.vcf"; got != want {
		t.Errorf("VCardFile() = %q, want %q", got, want)
	}
	if p.Snapshot().Version != 0 {
		t.Errorf("initial version = %d, want 0", p.Snapshot().Version)
	}
}

func TestPublisherConcatenatesInOrder(t *testing.T) {
	store := snapshot.NewMemStore("/run/contacts.vcf")
	rec := &recorder{}
	p := snapshot.NewPublisher(store, rec)

	if err := p.Publish(results("VCARD-A", "VCARD-B")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := p.Contacts(); got != "VCARD-AVCARD-B" {
		t.Errorf("Contacts() = %q, want %q", got, "VCARD-AVCARD-B")
	}
	if !p.HasContacts() {
		t.Error("HasContacts() = false, want true")
	}
	if got := string(store.Data()); got != "VCARD-AVCARD-B" {
		t.Errorf("stored data = %q", got)
	}
	if rec.count() != 1 {
		t.Errorf("notifications = %d, want 1", rec.count())
	}
	if rec.snaps[0].Contacts != "VCARD-AVCARD-B" {
		t.Errorf("notified contacts = %q", rec.snaps[0].Contacts)
	}
}

func TestPublisherRepublishIsIdempotent(t *testing.T) {
	store := snapshot.NewMemStore("/run/contacts.vcf")
	rec := &recorder{}
	p := snapshot.NewPublisher(store, rec)

	in := results("VCARD-A", "VCARD-B")
	if err := p.Publish(in); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	first := store.Data()
	if err := p.Publish(in); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if string(store.Data()) != string(first) {
		t.Errorf("republish changed bytes: %q vs %q", store.Data(), first)
	}
	if rec.count() != 2 {
		t.Errorf("notifications = %d, want one per publish (2)", rec.count())
	}
	if v := p.Snapshot().Version; v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestPublisherEmptyResultClearsSnapshot(t *testing.T) {
	store := snapshot.NewMemStore("/run/contacts.vcf")
	rec := &recorder{}
	p := snapshot.NewPublisher(store, rec)

	if err := p.Publish(results("VCARD-A")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(nil); err != nil {
		t.Fatalf("Publish(nil): %v", err)
	}
	if p.Contacts() != "" || p.HasContacts() {
		t.Errorf("snapshot = %+v, want empty", p.Snapshot())
	}
	if rec.count() != 2 {
		t.Errorf("notifications = %d, want 2", rec.count())
	}
}

func TestPublisherWriteErrorKeepsPrevious(t *testing.T) {
	store := snapshot.NewMemStore("/run/contacts.vcf")
	rec := &recorder{}
	p := snapshot.NewPublisher(store, rec)

	if err := p.Publish(results("VCARD-A")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	diskFull := errors.New("no space left on device")
	store.SetWriteError(diskFull)
	err := p.Publish(results("VCARD-B"))
	if !errors.Is(err, diskFull) {
		t.Fatalf("Publish error = %v, want wrapping %v", err, diskFull)
	}
	if p.Contacts() != "VCARD-A" {
		t.Errorf("Contacts() = %q, want previous VCARD-A", p.Contacts())
	}
	if rec.count() != 1 {
		t.Errorf("notifications = %d, want 1 (failed publish must not notify)", rec.count())
	}

	store.SetWriteError(nil)
	if err := p.Publish(results("VCARD-B")); err != nil {
		t.Fatalf("Publish after recovery: %v", err)
	}
	if p.Contacts() != "VCARD-B" {
		t.Errorf("Contacts() = %q, want VCARD-B", p.Contacts())
	}
}

func TestPublisherClose(t *testing.T) {
	dir := t.TempDir()
	store, err := snapshot.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	p := snapshot.NewPublisher(store, nil)
	if err := p.Publish(results("VCARD-A")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(store.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still exists after Close: %v", err)
	}
	if err := p.Publish(results("VCARD-B")); !errors.Is(err, snapshot.ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestFileURL(t *testing.T) {
	got := snapshot.FileURL("/tmp/contacts-1.vcf")
	if got != "file:///tmp/contacts-1.vcf" {
		t.Errorf("FileURL = %q", got)
	}
	if !strings.HasPrefix(snapshot.FileURL("/a b/c.vcf"), "file:///a%20b/") {
		t.Errorf("FileURL did not escape: %q", snapshot.FileURL("/a b/c.vcf"))
	}
}
