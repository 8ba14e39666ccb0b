package directory

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	ldap "github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

var (
	// ErrCredentialsRequired indicates anonymous binding is disallowed and no
	// credentials are configured.
	ErrCredentialsRequired = errors.New("directory: bind credentials required when anonymous binding is disabled")
	// ErrCredentialsIncomplete indicates exactly one of bind DN and password
	// is configured, which is a configuration error distinct from both missing.
	ErrCredentialsIncomplete = errors.New("directory: bind credentials incomplete")
	// ErrBaseDNUnavailable indicates the configured search root does not exist
	// or is not readable by the bound identity.
	ErrBaseDNUnavailable = errors.New("directory: base dn not found or not accessible")

	noOpLogger = zap.NewNop()
)

const (
	personFilter    = "(objectClass=person)"
	affiliationAttr = "eduPersonAffiliation"
)

var personAttributes = []string{
	"uid", "cn", "sn", "givenName", "mail", "telephoneNumber", "ou", affiliationAttr,
}

// Config describes the upstream directory connection.
type Config struct {
	Host           string
	Port           int
	UseTLS         bool
	BindDN         string
	BindPassword   string
	AllowAnonymous bool
	BaseDN         string
	PageSize       uint32
	// MaxEntries bounds one paged search; zero means full pagination.
	MaxEntries int
	// ExcludeAffiliations removes matching eduPersonAffiliation values from
	// person searches, e.g. "student" or "alum".
	ExcludeAffiliations []string
}

// Entry is one person record read from the directory.
type Entry struct {
	DN         string
	UID        string
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Department string
	Title      string
}

// SearchHit is a lightweight match returned by interactive text search.
type SearchHit struct {
	DN          string
	DisplayName string
	UID         string
	Email       string
}

// Conn is the subset of the LDAP connection the client uses. It exists so
// tests can substitute the network transport.
type Conn interface {
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	Search(request *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Client opens sessions against the configured directory server.
type Client struct {
	cfg    Config
	dial   func(cfg Config) (Conn, error)
	logger *zap.Logger
}

// ClientConfig bundles the directory settings with optional dependencies.
type ClientConfig struct {
	Directory Config
	Logger    *zap.Logger
	// Dial overrides the network dialer; used by tests.
	Dial func(cfg Config) (Conn, error)
}

// NewClient constructs a directory client. No connection is made until
// Connect is called.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	dial := cfg.Dial
	if dial == nil {
		dial = dialNetwork
	}
	return &Client{cfg: cfg.Directory, dial: dial, logger: logger}
}

func dialNetwork(cfg Config) (Conn, error) {
	if cfg.UseTLS {
		address := fmt.Sprintf("ldaps://%s:%d", cfg.Host, cfg.Port)
		// Certificate validation is disabled on purpose: deployments bind to
		// campus directory servers with private CAs under an operator trust model.
		return ldap.DialURL(address, ldap.DialWithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}
	address := fmt.Sprintf("ldap://%s:%d", cfg.Host, cfg.Port)
	return ldap.DialURL(address)
}

// Connect dials the server, binds, and verifies the configured search root is
// reachable. The returned session is scoped to one logical operation and must
// be closed by the caller on every exit path.
func (c *Client) Connect() (*Session, error) {
	hasBindDN := strings.TrimSpace(c.cfg.BindDN) != ""
	hasPassword := c.cfg.BindPassword != ""

	if !c.cfg.AllowAnonymous && !hasBindDN && !hasPassword {
		return nil, ErrCredentialsRequired
	}
	if hasBindDN != hasPassword {
		return nil, fmt.Errorf("%w: both bind dn and password must be set", ErrCredentialsIncomplete)
	}

	conn, err := c.dial(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("directory: dial %s:%d failed: %w", c.cfg.Host, c.cfg.Port, err)
	}

	if hasBindDN {
		c.logger.Info("binding to directory", zap.String("bind_dn", c.cfg.BindDN))
		err = conn.Bind(c.cfg.BindDN, c.cfg.BindPassword)
	} else {
		c.logger.Info("binding to directory anonymously")
		err = conn.UnauthenticatedBind("")
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("directory: bind failed: %w", err)
	}

	session := &Session{cfg: c.cfg, conn: conn, logger: c.logger}
	if err := session.probeBaseDN(); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// Session is an established directory connection bound to one operation.
type Session struct {
	cfg    Config
	conn   Conn
	logger *zap.Logger
}

// probeBaseDN reads the search root itself to verify it exists and is
// readable before any search is attempted.
func (s *Session) probeBaseDN() error {
	request := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)",
		[]string{"objectClass"},
		nil,
	)
	if _, err := s.conn.Search(request); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrBaseDNUnavailable, s.cfg.BaseDN, err)
	}
	return nil
}

// SearchPeople pages through every person entry under the search root,
// following continuation cookies until the server signals no more pages or
// the configured entry bound is reached. An empty page is not an error.
func (s *Session) SearchPeople() ([]Entry, error) {
	filter := s.personSearchFilter()
	s.logger.Info("searching directory", zap.String("filter", filter))

	var entries []Entry
	paging := ldap.NewControlPaging(s.cfg.PageSize)

	for {
		request := ldap.NewSearchRequest(
			s.cfg.BaseDN,
			ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			filter,
			personAttributes,
			[]ldap.Control{paging},
		)

		result, err := s.conn.Search(request)
		if err != nil {
			return nil, fmt.Errorf("directory: person search failed: %w", err)
		}

		for _, raw := range result.Entries {
			entries = append(entries, entryFromLDAP(raw))
			if s.cfg.MaxEntries > 0 && len(entries) >= s.cfg.MaxEntries {
				s.logger.Warn("entry bound reached, truncating directory search",
					zap.Int("max_entries", s.cfg.MaxEntries))
				return entries, nil
			}
		}

		cookie := pagingCookie(result)
		if len(cookie) == 0 {
			return entries, nil
		}
		paging.SetCookie(cookie)
	}
}

// Lookup fetches exactly one entry by its identifier (base scope, not
// subtree). A missing entry yields nil, not an error.
func (s *Session) Lookup(dn string) (*Entry, error) {
	request := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)",
		personAttributes,
		nil,
	)
	result, err := s.conn.Search(request)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: lookup of %q failed: %w", dn, err)
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	entry := entryFromLDAP(result.Entries[0])
	return &entry, nil
}

// SearchByText performs interactive substring matching across the common
// naming attributes, honoring the configured affiliation exclusions.
func (s *Session) SearchByText(term string) ([]SearchHit, error) {
	escaped := ldap.EscapeFilter(term)
	base := fmt.Sprintf(
		"(|(uid=*%[1]s*)(cn=*%[1]s*)(mail=*%[1]s*)(sn=*%[1]s*)(givenName=*%[1]s*))",
		escaped,
	)
	filter := s.withExclusions(base)
	s.logger.Info("directory text search", zap.String("filter", filter))

	request := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"uid", "cn", "sn", "givenName", "mail"},
		nil,
	)
	result, err := s.conn.Search(request)
	if err != nil {
		return nil, fmt.Errorf("directory: text search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(result.Entries))
	for _, raw := range result.Entries {
		hits = append(hits, SearchHit{
			DN:          raw.DN,
			DisplayName: raw.GetAttributeValue("cn"),
			UID:         raw.GetAttributeValue("uid"),
			Email:       raw.GetAttributeValue("mail"),
		})
	}
	return hits, nil
}

// Close releases the connection. Best effort: unbind failures are logged,
// never surfaced.
func (s *Session) Close() {
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("directory connection close failed", zap.Error(err))
	}
}

func (s *Session) personSearchFilter() string {
	return s.withExclusions(personFilter)
}

func (s *Session) withExclusions(base string) string {
	if len(s.cfg.ExcludeAffiliations) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString("(&")
	b.WriteString(base)
	for _, affiliation := range s.cfg.ExcludeAffiliations {
		fmt.Fprintf(&b, "(!(%s=%s))", affiliationAttr, ldap.EscapeFilter(affiliation))
	}
	b.WriteString(")")
	return b.String()
}

func pagingCookie(result *ldap.SearchResult) []byte {
	control := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
	if control == nil {
		return nil
	}
	paging, ok := control.(*ldap.ControlPaging)
	if !ok {
		return nil
	}
	return paging.Cookie
}

func entryFromLDAP(raw *ldap.Entry) Entry {
	return Entry{
		DN:         raw.DN,
		UID:        raw.GetAttributeValue("uid"),
		FirstName:  raw.GetAttributeValue("givenName"),
		LastName:   raw.GetAttributeValue("sn"),
		Email:      raw.GetAttributeValue("mail"),
		Phone:      raw.GetAttributeValue("telephoneNumber"),
		Department: raw.GetAttributeValue("ou"),
		Title:      raw.GetAttributeValue(affiliationAttr),
	}
}
