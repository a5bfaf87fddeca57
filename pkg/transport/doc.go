// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the HTTPS transport used to push AS4 messages
and to deliver or notify over HTTP.

# TLS Configuration

The package recommends TLS 1.3 with fallback to TLS 1.2:

	config := transport.DefaultHTTPSConfig()
	// MinTLSVersion: TLS 1.2
	// MaxTLSVersion: TLS 1.3

Client certificates and trust anchors are loaded from PEM files:

	config, err := transport.LoadHTTPSConfig(transport.TLSFiles{
	    CAFile:   "/etc/msh/ca.pem",
	    CertFile: "/etc/msh/client.pem",
	    KeyFile:  "/etc/msh/client.key",
	})

# Client Usage

	client := transport.NewHTTPSClient(config)
	resp, err := client.Send(ctx, "https://receiver.example.com/msh", body, contentType)
	if transport.IsRetryable(err) {
	    // schedule a resend
	}

A [Pool] keeps one client per TLS setting.

# References

  - eDelivery AS4 Transport: https://ec.europa.eu/digital-building-blocks/sites/spaces/DIGITAL/
  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
*/
package transport
