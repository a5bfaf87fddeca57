package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
)

var (
	// ErrNotRegistered is returned when the SMP does not know the participant
	// or the document type
	ErrNotRegistered = errors.New("not registered in SMP")
	// ErrInvalidMetadata is returned for SMP responses that cannot be read
	ErrInvalidMetadata = errors.New("invalid SMP metadata")
)

// maxMetadataSize bounds SMP responses
const maxMetadataSize = 4 << 20

// Process lists the endpoints of one process of a document type
type Process struct {
	ID        Identifier
	Endpoints []Endpoint
}

// metadataURL returns the service metadata address of a participant and
// document type: <smp>/<participant>/services/<document>
func metadataURL(smpURL string, participant, document Identifier) string {
	return strings.TrimRight(smpURL, "/") + "/" + url.PathEscape(participant.String()) +
		"/services/" + url.PathEscape(document.String())
}

// fetchMetadata reads the processes published for a participant and
// document type
func (c *Client) fetchMetadata(ctx context.Context, smpURL string, participant, document Identifier) ([]Process, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL(smpURL, participant, document), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smp request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s for %s", ErrNotRegistered, participant, document)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("smp returned status %d", resp.StatusCode)
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(io.LimitReader(resp.Body, maxMetadataSize)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return parseMetadata(doc)
}

// parseMetadata reads SMP 1.0 (SignedServiceMetadata) and SMP 2.0
// (ServiceMetadata with ProcessMetadata) documents. Namespaces are ignored.
func parseMetadata(doc *etree.Document) ([]Process, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidMetadata)
	}
	if root.FindElement(".//Redirect") != nil {
		return nil, fmt.Errorf("%w: smp redirects are not followed", ErrInvalidMetadata)
	}

	var processes []Process
	if groups := root.FindElements(".//ProcessMetadata"); len(groups) > 0 {
		for _, g := range groups {
			var endpoints []Endpoint
			for _, e := range g.SelectElements("Endpoint") {
				endpoints = append(endpoints, Endpoint{
					TransportProfile: text(e, "TransportProfileID"),
					URL:              text(e, "AddressURI"),
					Certificate:      text(e, "Certificate/ContentBinaryObject"),
					ActivationDate:   date(text(e, "ActivationDate")),
					ExpirationDate:   date(text(e, "ExpirationDate")),
					Description:      text(e, "Description"),
				})
			}
			ids := g.FindElements("Process/ID")
			if len(ids) == 0 {
				// no process listed means every process
				processes = append(processes, Process{Endpoints: endpoints})
			}
			for _, id := range ids {
				processes = append(processes, Process{ID: identifier(id), Endpoints: endpoints})
			}
		}
		return processes, nil
	}

	for _, p := range root.FindElements(".//ProcessList/Process") {
		proc := Process{}
		if id := p.SelectElement("ProcessIdentifier"); id != nil {
			proc.ID = identifier(id)
		}
		for _, e := range p.FindElements("ServiceEndpointList/Endpoint") {
			proc.Endpoints = append(proc.Endpoints, Endpoint{
				TransportProfile: e.SelectAttrValue("transportProfile", ""),
				URL:              firstText(e, "EndpointURI", "EndpointReference/Address"),
				Certificate:      text(e, "Certificate"),
				ActivationDate:   date(text(e, "ServiceActivationDate")),
				ExpirationDate:   date(text(e, "ServiceExpirationDate")),
				Description:      text(e, "ServiceDescription"),
			})
		}
		processes = append(processes, proc)
	}
	if len(processes) == 0 {
		return nil, fmt.Errorf("%w: no process in %s", ErrInvalidMetadata, root.Tag)
	}
	return processes, nil
}

func identifier(e *etree.Element) Identifier {
	return Identifier{Scheme: e.SelectAttrValue("scheme", e.SelectAttrValue("schemeID", "")), Value: strings.TrimSpace(e.Text())}
}

func text(e *etree.Element, path string) string {
	if c := e.FindElement(path); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func firstText(e *etree.Element, paths ...string) string {
	for _, p := range paths {
		if v := text(e, p); v != "" {
			return v
		}
	}
	return ""
}

// date parses xs:dateTime and xs:date values; anything else is no date
func date(v string) *time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}
