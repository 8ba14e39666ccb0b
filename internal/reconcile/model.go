package reconcile

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/directory"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/telephony"
)

// Directory opens sessions against the upstream identity directory. One
// session is scoped to one logical operation.
type Directory interface {
	Connect() (Session, error)
}

// Session is an established directory connection.
type Session interface {
	SearchPeople() ([]directory.Entry, error)
	Lookup(dn string) (*directory.Entry, error)
	SearchByText(term string) ([]directory.SearchHit, error)
	Close()
}

// Enricher looks up telephony provisioning data for an identity. Lookups
// return typed results and never abort the caller.
type Enricher interface {
	SecretCode(uid string) telephony.CodeLookup
	OwnedDevice(uid string) telephony.DeviceLookup
}

type ldapDirectory struct {
	client *directory.Client
}

// NewLDAPDirectory adapts the concrete LDAP client to the Directory contract.
func NewLDAPDirectory(client *directory.Client) Directory {
	return ldapDirectory{client: client}
}

func (d ldapDirectory) Connect() (Session, error) {
	session, err := d.client.Connect()
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ConflictDescriptor identifies a uid collision between the record reached by
// uid lookup and a different record holding the incoming directory identifier.
type ConflictDescriptor struct {
	UID         string
	ContactID   int64
	PeerID      int64
	DirectoryDN string
}

// Report summarizes one sync pass. When a pass fails mid-run the counters
// reflect only the batches that committed.
type Report struct {
	Added     int
	Updated   int
	Processed int
	Conflicts []ConflictDescriptor
}

type outcomeKind int

const (
	outcomeSkipped outcomeKind = iota
	outcomeCreated
	outcomeUpdated
	outcomeConflict
)

// entryOutcome is the tagged per-entry result folded into the batch counters.
type entryOutcome struct {
	kind     outcomeKind
	conflict ConflictDescriptor
}

func (r *Report) fold(outcome entryOutcome) {
	switch outcome.kind {
	case outcomeCreated:
		r.Added++
		r.Processed++
	case outcomeUpdated:
		r.Updated++
		r.Processed++
	case outcomeConflict:
		r.Conflicts = append(r.Conflicts, outcome.conflict)
		r.Processed++
	case outcomeSkipped:
	}
}

func (r Report) summary() string {
	message := fmt.Sprintf("Sync completed: %d contacts added, %d updated", r.Added, r.Updated)
	if len(r.Conflicts) > 0 {
		message += fmt.Sprintf(", %d conflicts found", len(r.Conflicts))
	}
	return message
}

// Strategy selects how an operator resolves a flagged conflict.
type Strategy string

const (
	// StrategyKeepLocal keeps the local record untouched and clears the flag.
	StrategyKeepLocal Strategy = "keep_local"
	// StrategyReplaceWithDirectory force-imports the competing directory entry.
	StrategyReplaceWithDirectory Strategy = "replace_with_directory"
	// StrategyMergeFromDirectory fills empty local fields from the directory
	// entry and reclassifies the record as directory-sourced.
	StrategyMergeFromDirectory Strategy = "merge_from_directory"
)

// ParseStrategy validates raw operator input.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case StrategyKeepLocal:
		return StrategyKeepLocal, nil
	case StrategyReplaceWithDirectory:
		return StrategyReplaceWithDirectory, nil
	case StrategyMergeFromDirectory:
		return StrategyMergeFromDirectory, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, value)
	}
}
