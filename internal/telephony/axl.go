package telephony

import (
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured indicates the provisioning service host or credentials
	// are unset. Raised before any network attempt so callers fail fast
	// instead of timing out.
	ErrNotConfigured = errors.New("telephony: provisioning service settings not configured")
	// ErrAuthFailed indicates the provisioning service rejected the
	// configured credentials.
	ErrAuthFailed = errors.New("telephony: provisioning service authentication failed")

	errNotFoundFault = errors.New("telephony: item not found")

	noOpLogger = zap.NewNop()
)

const (
	axlPort        = 8443
	axlVersion     = "14.0"
	requestTimeout = 30 * time.Second
)

// Outcome classifies an enrichment lookup. NotFound and TransientFault are
// both normal results for the caller: a record sync is never aborted by an
// enrichment miss.
type Outcome int

const (
	// OutcomeFound means the provisioning service returned a value.
	OutcomeFound Outcome = iota
	// OutcomeNotFound means the identity has no matching record upstream.
	OutcomeNotFound
	// OutcomeTransientFault means the lookup failed; the cause is retained
	// for logging but never propagated.
	OutcomeTransientFault
)

// CodeLookup is the typed result of a secret-code fetch.
type CodeLookup struct {
	Outcome Outcome
	Code    string
	Err     error
}

// Device describes a provisioned telephony device.
type Device struct {
	Name        string
	Description string
	Model       string
	MAC         string
}

// DeviceLookup is the typed result of an owned-device search.
type DeviceLookup struct {
	Outcome Outcome
	Device  Device
	Err     error
}

// Config describes the provisioning service endpoint.
type Config struct {
	Host       string
	Username   string
	Password   string
	SkipVerify bool
}

// ClientConfig bundles the service settings with optional dependencies.
type ClientConfig struct {
	AXL    Config
	Logger *zap.Logger
	// BaseURL overrides the host-derived endpoint; used by tests.
	BaseURL string
}

// Client queries the telephony provisioning service over its SOAP API. The
// authenticated session is established lazily on first use and cached across
// calls to amortize connection setup; callers create a fresh instance per
// logical operation. All lookups are read-only on the remote service.
type Client struct {
	cfg     Config
	baseURL string
	logger  *zap.Logger

	mu   sync.Mutex
	http *resty.Client
}

// NewClient constructs a provisioning client. No connection is made until
// the first lookup.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{cfg: cfg.AXL, baseURL: cfg.BaseURL, logger: logger}
}

// SecretCode fetches the per-identity authorization code. Absent is a normal
// outcome; every failure collapses to a typed result, never an error.
func (c *Client) SecretCode(uid string) CodeLookup {
	if strings.TrimSpace(uid) == "" {
		return CodeLookup{Outcome: OutcomeNotFound}
	}

	body := fmt.Sprintf(
		"<ns:listFacInfo><searchCriteria><name>%s</name></searchCriteria><returnedTags><code/></returnedTags></ns:listFacInfo>",
		xmlEscape(uid),
	)
	raw, err := c.call("listFacInfo", body)
	if err != nil {
		if errors.Is(err, errNotFoundFault) {
			return CodeLookup{Outcome: OutcomeNotFound}
		}
		return CodeLookup{Outcome: OutcomeTransientFault, Err: err}
	}

	var response facInfoResponse
	if err := xml.Unmarshal(raw, &response); err != nil {
		return CodeLookup{Outcome: OutcomeTransientFault, Err: fmt.Errorf("telephony: decode listFacInfo response: %w", err)}
	}
	for _, fac := range response.FacInfo {
		if fac.Code != "" {
			return CodeLookup{Outcome: OutcomeFound, Code: fac.Code}
		}
	}
	return CodeLookup{Outcome: OutcomeNotFound}
}

// OwnedDevice searches for a device whose description mentions the identity.
// The match is best effort: multiple devices may match and the first result
// wins, with no ordering guarantee across calls. MAC values are normalized
// to colon-separated hex.
func (c *Client) OwnedDevice(uid string) DeviceLookup {
	if strings.TrimSpace(uid) == "" {
		return DeviceLookup{Outcome: OutcomeNotFound}
	}

	body := fmt.Sprintf(
		"<ns:listPhone><searchCriteria><description>%%%s%%</description></searchCriteria><returnedTags><name/><description/><model/><product/></returnedTags></ns:listPhone>",
		xmlEscape(uid),
	)
	raw, err := c.call("listPhone", body)
	if err != nil {
		if errors.Is(err, errNotFoundFault) {
			return DeviceLookup{Outcome: OutcomeNotFound}
		}
		return DeviceLookup{Outcome: OutcomeTransientFault, Err: err}
	}

	var response phoneListResponse
	if err := xml.Unmarshal(raw, &response); err != nil {
		return DeviceLookup{Outcome: OutcomeTransientFault, Err: fmt.Errorf("telephony: decode listPhone response: %w", err)}
	}
	if len(response.Phones) == 0 {
		return DeviceLookup{Outcome: OutcomeNotFound}
	}

	phone := response.Phones[0]
	device := Device{
		Name:        phone.Name,
		Description: phone.Description,
		Model:       phone.Model,
	}
	if rest, ok := strings.CutPrefix(phone.Name, "SEP"); ok {
		device.MAC = NormalizeMAC(rest)
	}
	return DeviceLookup{Outcome: OutcomeFound, Device: device}
}

// session returns the cached HTTP client, establishing and probing it on
// first use. Missing settings fail immediately without dialing.
func (c *Client) session() (*resty.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http != nil {
		return c.http, nil
	}

	if c.cfg.Host == "" || c.cfg.Username == "" || c.cfg.Password == "" {
		return nil, ErrNotConfigured
	}

	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s:%d/axl/", c.cfg.Host, axlPort)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(c.cfg.Username, c.cfg.Password).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "text/xml; charset=utf-8")
	if c.cfg.SkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	// Probe with a minimal query so credential problems surface here rather
	// than on the first enrichment lookup of a sync pass.
	probe := "<ns:listPhone><searchCriteria><name>SEP%</name></searchCriteria><returnedTags><name/></returnedTags><first>1</first></ns:listPhone>"
	if _, err := c.post(client, "listPhone", probe); err != nil && !errors.Is(err, errNotFoundFault) {
		return nil, err
	}

	c.logger.Info("provisioning service session established", zap.String("host", c.cfg.Host))
	c.http = client
	return client, nil
}

func (c *Client) call(action, body string) ([]byte, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	return c.post(client, action, body)
}

func (c *Client) post(client *resty.Client, action, body string) ([]byte, error) {
	envelope := fmt.Sprintf(
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns="http://www.cisco.com/AXL/API/%s"><soapenv:Header/><soapenv:Body>%s</soapenv:Body></soapenv:Envelope>`,
		axlVersion, body,
	)

	response, err := client.R().
		SetHeader("SOAPAction", fmt.Sprintf("CUCM:DB ver=%s %s", axlVersion, action)).
		SetBody(envelope).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("telephony: %s request failed: %w", action, err)
	}

	switch {
	case response.StatusCode() == http.StatusUnauthorized:
		return nil, ErrAuthFailed
	case response.StatusCode() >= http.StatusBadRequest:
		fault := parseFault(response.Body())
		if strings.Contains(fault, "was not found") {
			return nil, fmt.Errorf("%w: %s", errNotFoundFault, fault)
		}
		return nil, fmt.Errorf("telephony: %s returned %d: %s", action, response.StatusCode(), fault)
	}
	return response.Body(), nil
}

type facInfoResponse struct {
	FacInfo []struct {
		Code string `xml:"code"`
	} `xml:"Body>listFacInfoResponse>return>facInfo"`
}

type phoneListResponse struct {
	Phones []struct {
		Name        string `xml:"name"`
		Description string `xml:"description"`
		Model       string `xml:"model"`
	} `xml:"Body>listPhoneResponse>return>phone"`
}

type soapFault struct {
	FaultString string `xml:"Body>Fault>faultstring"`
}

func parseFault(raw []byte) string {
	var fault soapFault
	if err := xml.Unmarshal(raw, &fault); err != nil || fault.FaultString == "" {
		return "unparseable fault"
	}
	return fault.FaultString
}

func xmlEscape(value string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(value))
	return b.String()
}
