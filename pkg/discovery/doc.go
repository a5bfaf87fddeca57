// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package discovery resolves the AS4 endpoint of a receiving party at
runtime, the way eDelivery and Peppol networks publish them.

Discovery has two hops. A BDXL lookup turns the participant identifier
into the address of its SMP: the identifier is hashed (SHA-256, base32,
padding removed), prefixed to the SML domain and resolved as a U-NAPTR
record. The SMP then lists, per document type and process, the endpoints
of the participant. OASIS SMP 1.0 and 2.0 metadata are both understood.

	c := discovery.NewClient(nil)
	ep, err := c.Resolve(ctx, discovery.Config{SMLDomain: "edelivery.tech.ec.europa.eu"}, discovery.Query{
	    Participant:  discovery.Identifier{Scheme: "iso6523-actorid-upis", Value: "0088:5798000000001"},
	    DocumentType: discovery.Identifier{Scheme: "busdox-docid-qns", Value: "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice"},
	    Process:      discovery.Identifier{Scheme: "cenbii-procid-ubl", Value: "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"},
	})

An SMP URL in the Config skips the BDXL hop.

# References

  - OASIS BDXL 1.0: https://docs.oasis-open.org/bdxr/BDX-Location/v1.0/
  - OASIS SMP 1.0: https://docs.oasis-open.org/bdxr/bdx-smp/v1.0/
  - OASIS SMP 2.0: https://docs.oasis-open.org/bdxr/bdx-smp/v2.0/
*/
package discovery
