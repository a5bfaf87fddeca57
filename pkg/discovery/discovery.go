package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Transport profiles of AS4 endpoints
const (
	TransportAS4V2       = "bdxr-transport-ebms3-as4-v2p0"
	TransportPeppolAS4V2 = "peppol-transport-as4-v2_0"
	TransportAS4V1       = "bdxr-transport-ebms3-as4-v1p0"
)

// DefaultTransportProfiles is the preference order used when a Config
// names none
var DefaultTransportProfiles = []string{TransportAS4V2, TransportPeppolAS4V2, TransportAS4V1}

// ErrNoEndpoint is returned when the SMP lists no usable endpoint
var ErrNoEndpoint = errors.New("no active endpoint")

// Identifier is a scheme qualified identifier
type Identifier struct {
	Scheme string
	Value  string
}

// String renders the identifier as scheme::value, or the bare value
func (id Identifier) String() string {
	if id.Scheme == "" {
		return id.Value
	}
	return id.Scheme + "::" + id.Value
}

// Query names what to look up
type Query struct {
	Participant  Identifier
	DocumentType Identifier

	// Process selects among the processes of the document type. An empty
	// value accepts any.
	Process Identifier
}

// Config is the discovery setup of one network
type Config struct {
	// SMLDomain is the BDXL zone participants are published in
	SMLDomain string
	// SMPURL, when set, is used for every participant and skips BDXL
	SMPURL string
	// DNSServer is a host or host:port; empty uses the system resolver
	DNSServer string
	// TransportProfiles in order of preference. When set, endpoints with
	// other profiles are never used.
	TransportProfiles []string
}

// Endpoint is a published AS4 endpoint
type Endpoint struct {
	TransportProfile string
	URL              string
	Certificate      string
	ActivationDate   *time.Time
	ExpirationDate   *time.Time
	Description      string
}

// ActiveAt reports whether t is inside the activation window
func (e *Endpoint) ActiveAt(t time.Time) bool {
	if e.ActivationDate != nil && t.Before(*e.ActivationDate) {
		return false
	}
	if e.ExpirationDate != nil && t.After(*e.ExpirationDate) {
		return false
	}
	return e.URL != ""
}

// Client performs BDXL and SMP lookups
type Client struct {
	HTTP       *http.Client
	DNS        *dns.Client
	ResolvConf string
	UserAgent  string
	Now        func() time.Time
}

// NewClient creates a client. A nil httpClient gets a 30 second timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		HTTP:       httpClient,
		DNS:        &dns.Client{Timeout: 5 * time.Second},
		ResolvConf: "/etc/resolv.conf",
		UserAgent:  "go-msh-discovery/1.0",
		Now:        time.Now,
	}
}

// Resolve finds the endpoint messages for q are pushed to
func (c *Client) Resolve(ctx context.Context, cfg Config, q Query) (*Endpoint, error) {
	if q.Participant.Value == "" {
		return nil, errors.New("discovery needs a participant identifier")
	}
	smpURL := cfg.SMPURL
	if smpURL == "" {
		if cfg.SMLDomain == "" {
			return nil, errors.New("discovery needs an SML domain or an SMP URL")
		}
		var err error
		if smpURL, err = c.lookupSMP(ctx, cfg, q.Participant); err != nil {
			return nil, err
		}
	}

	processes, err := c.fetchMetadata(ctx, smpURL, q.Participant, q.DocumentType)
	if err != nil {
		return nil, err
	}
	return selectEndpoint(processes, q.Process, cfg.TransportProfiles, c.Now())
}

// selectEndpoint returns the first active endpoint of the matching
// processes in transport profile preference order
func selectEndpoint(processes []Process, process Identifier, profiles []string, now time.Time) (*Endpoint, error) {
	var active []Endpoint
	for _, p := range processes {
		if !matches(p.ID, process) {
			continue
		}
		for _, e := range p.Endpoints {
			if e.ActiveAt(now) {
				active = append(active, e)
			}
		}
	}

	strict := len(profiles) > 0
	if !strict {
		profiles = DefaultTransportProfiles
	}
	for _, profile := range profiles {
		for i := range active {
			if strings.EqualFold(active[i].TransportProfile, profile) {
				return &active[i], nil
			}
		}
	}
	if !strict && len(active) > 0 {
		return &active[0], nil
	}
	return nil, fmt.Errorf("%w for process %q", ErrNoEndpoint, process)
}

// matches compares a published process id with the wanted one. Values are
// compared case-insensitively; schemes only when both are known.
func matches(published, wanted Identifier) bool {
	if wanted.Value == "" || published.Value == "" {
		return true
	}
	if !strings.EqualFold(published.Value, wanted.Value) {
		return false
	}
	return published.Scheme == "" || wanted.Scheme == "" || strings.EqualFold(published.Scheme, wanted.Scheme)
}
