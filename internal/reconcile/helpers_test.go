package reconcile

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/directory"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/telephony"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reconcile.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&contacts.Contact{}, &contacts.ContactChange{}, &contacts.Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func fixedClock() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

type sequenceProvider struct {
	next int
}

func (p *sequenceProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
}

// fakeSession scripts directory responses for the engine, importer and
// resolver tests.
type fakeSession struct {
	entries   []directory.Entry
	byDN      map[string]directory.Entry
	searchErr error
	closed    bool
}

func (s *fakeSession) SearchPeople() ([]directory.Entry, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.entries, nil
}

func (s *fakeSession) Lookup(dn string) (*directory.Entry, error) {
	entry, ok := s.byDN[dn]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *fakeSession) SearchByText(term string) ([]directory.SearchHit, error) {
	hits := make([]directory.SearchHit, 0, len(s.byDN))
	for dn, entry := range s.byDN {
		hits = append(hits, directory.SearchHit{DN: dn, UID: entry.UID, Email: entry.Email})
	}
	return hits, nil
}

func (s *fakeSession) Close() {
	s.closed = true
}

type fakeDirectory struct {
	session    *fakeSession
	connectErr error
	// connecting, when set, receives a token as Connect is entered.
	connecting chan<- struct{}
	// gate, when set, blocks Connect until the channel is closed.
	gate <-chan struct{}
}

func (d *fakeDirectory) Connect() (Session, error) {
	if d.connecting != nil {
		d.connecting <- struct{}{}
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return d.session, nil
}

// fakeEnricher serves scripted telephony data; unknown identities come back
// not-found, matching a healthy upstream with no record.
type fakeEnricher struct {
	codes     map[string]string
	devices   map[string]telephony.Device
	faultUIDs map[string]bool
}

var errEnrichmentDown = errors.New("provisioning service unavailable")

func (e *fakeEnricher) SecretCode(uid string) telephony.CodeLookup {
	if e.faultUIDs[uid] {
		return telephony.CodeLookup{Outcome: telephony.OutcomeTransientFault, Err: errEnrichmentDown}
	}
	code, ok := e.codes[uid]
	if !ok {
		return telephony.CodeLookup{Outcome: telephony.OutcomeNotFound}
	}
	return telephony.CodeLookup{Outcome: telephony.OutcomeFound, Code: code}
}

func (e *fakeEnricher) OwnedDevice(uid string) telephony.DeviceLookup {
	if e.faultUIDs[uid] {
		return telephony.DeviceLookup{Outcome: telephony.OutcomeTransientFault, Err: errEnrichmentDown}
	}
	device, ok := e.devices[uid]
	if !ok {
		return telephony.DeviceLookup{Outcome: telephony.OutcomeNotFound}
	}
	return telephony.DeviceLookup{Outcome: telephony.OutcomeFound, Device: device}
}

func personDN(uid string) string {
	return fmt.Sprintf("uid=%s,ou=people,dc=example,dc=edu", uid)
}

func directoryEntry(uid string) directory.Entry {
	return directory.Entry{
		DN:         personDN(uid),
		UID:        uid,
		FirstName:  "Given-" + uid,
		LastName:   "Surname-" + uid,
		Email:      uid + "@example.edu",
		Phone:      "555-0100",
		Department: "Physics",
		Title:      "staff",
	}
}

func newTestEngine(t *testing.T, db *gorm.DB, dir Directory, enricher Enricher, batchSize int) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Database:   db,
		Directory:  dir,
		Enricher:   enricher,
		Clock:      fixedClock,
		IDProvider: &sequenceProvider{},
		BatchSize:  batchSize,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine
}

func newTestImporter(t *testing.T, db *gorm.DB, dir Directory, enricher Enricher) *Importer {
	t.Helper()
	importer, err := NewImporter(ImporterConfig{
		Database:   db,
		Directory:  dir,
		Enricher:   enricher,
		Clock:      fixedClock,
		IDProvider: &sequenceProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build importer: %v", err)
	}
	return importer
}

func newTestResolver(t *testing.T, db *gorm.DB, dir Directory) *Resolver {
	t.Helper()
	provider := &sequenceProvider{}
	importer, err := NewImporter(ImporterConfig{
		Database:   db,
		Directory:  dir,
		Clock:      fixedClock,
		IDProvider: provider,
	})
	if err != nil {
		t.Fatalf("failed to build importer: %v", err)
	}
	resolver, err := NewResolver(ResolverConfig{
		Database:   db,
		Directory:  dir,
		Importer:   importer,
		Clock:      fixedClock,
		IDProvider: provider,
	})
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	return resolver
}

func reloadContact(t *testing.T, db *gorm.DB, id int64) contacts.Contact {
	t.Helper()
	var contact contacts.Contact
	if err := db.Take(&contact, id).Error; err != nil {
		t.Fatalf("failed to reload contact %d: %v", id, err)
	}
	return contact
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}
