package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// U-NAPTR services that point to an SMP
const (
	ServiceSMP1 = "Meta:SMP"
	ServiceSMP2 = "oasis-bdxr-smp-2"
)

var (
	// ErrNoSMP is returned when the BDXL zone has no SMP record for a participant
	ErrNoSMP = errors.New("no SMP published for participant")
	// ErrInvalidNAPTR is returned for U-NAPTR records without a usable URL
	ErrInvalidNAPTR = errors.New("invalid U-NAPTR record")
)

// HashParticipant returns the BDXL label of a participant identifier
func HashParticipant(value string) string {
	sum := sha256.Sum256([]byte(value))
	return strings.TrimRight(base32.StdEncoding.EncodeToString(sum[:]), "=")
}

// QueryDomain returns the name the U-NAPTR records of id are published
// under. A scheme qualified identifier hashes its lower-cased value and
// puts the scheme in front of the SML domain; an unqualified one, such as
// an ebCore party id URN, is hashed as it is.
func QueryDomain(id Identifier, smlDomain string) string {
	smlDomain = strings.TrimSuffix(smlDomain, ".")
	if id.Scheme == "" {
		return HashParticipant(id.Value) + "." + smlDomain
	}
	return HashParticipant(strings.ToLower(id.Value)) + "." + id.Scheme + "." + smlDomain
}

// lookupSMP resolves the SMP base URL of id through BDXL
func (c *Client) lookupSMP(ctx context.Context, cfg Config, id Identifier) (string, error) {
	server, err := c.dnsServer(cfg)
	if err != nil {
		return "", err
	}
	name := QueryDomain(id, cfg.SMLDomain)

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeNAPTR)
	q.RecursionDesired = true

	resp, _, err := c.DNS.ExchangeContext(ctx, q, server)
	if err != nil {
		return "", fmt.Errorf("bdxl lookup of %s: %w", name, err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", fmt.Errorf("%w: %s", ErrNoSMP, id)
	default:
		return "", fmt.Errorf("bdxl lookup of %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if n, ok := rr.(*dns.NAPTR); ok {
			records = append(records, n)
		}
	}
	return selectSMP(records, id)
}

func (c *Client) dnsServer(cfg Config) (string, error) {
	if cfg.DNSServer != "" {
		if _, _, err := net.SplitHostPort(cfg.DNSServer); err != nil {
			return net.JoinHostPort(cfg.DNSServer, "53"), nil
		}
		return cfg.DNSServer, nil
	}
	conf, err := dns.ClientConfigFromFile(c.ResolvConf)
	if err != nil {
		return "", fmt.Errorf("reading resolver configuration: %w", err)
	}
	if len(conf.Servers) == 0 {
		return "", fmt.Errorf("no name server in %s", c.ResolvConf)
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

// selectSMP picks the terminal SMP record with the lowest order and
// preference. SMP 2.0 records win ties over SMP 1.0 ones.
func selectSMP(records []*dns.NAPTR, id Identifier) (string, error) {
	var candidates []*dns.NAPTR
	for _, r := range records {
		if !strings.EqualFold(r.Flags, "U") {
			continue
		}
		if !strings.EqualFold(r.Service, ServiceSMP1) && !strings.EqualFold(r.Service, ServiceSMP2) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSMP, id)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Preference != b.Preference {
			return a.Preference < b.Preference
		}
		return strings.EqualFold(a.Service, ServiceSMP2) && !strings.EqualFold(b.Service, ServiceSMP2)
	})
	return naptrURL(candidates[0].Regexp)
}

// naptrURL extracts the replacement of a U-NAPTR regexp such as
// "!^.*$!https://smp.example.org/!"
func naptrURL(re string) (string, error) {
	if len(re) < 2 {
		return "", fmt.Errorf("%w: empty regexp", ErrInvalidNAPTR)
	}
	delim := re[:1]
	parts := strings.Split(re, delim)
	if len(parts) < 4 || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidNAPTR, re)
	}
	u, err := url.Parse(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNAPTR, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidNAPTR, u.Scheme)
	}
	return parts[2], nil
}
