// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package gomsh is an AS4/ebMS3 Message Service Handler.

# Overview

go-msh receives, stores, sends, delivers and notifies AS4 messages through
a set of independent agents. Every agent has a receiver that produces work
items, a transformer that turns them into a messaging context, and a
pipeline of steps. Agents never call each other: a message moves through
the handler by the Operation and Status stored with it, and each agent
claims the records waiting for it atomically.

Processing Modes (P-Modes) decide how a message is handled. Sending P-Modes
describe packaging, the push endpoint or dynamic discovery of it, reception
awareness and producer notification. Receiving P-Modes are selected for
incoming messages by scoring and describe delivery, forwarding, replies
and consumer notification.

# Package Structure

	github.com/sirosfoundation/go-msh/cmd/msh               - msh command: run, validate-pmodes, cleanup
	github.com/sirosfoundation/go-msh/pkg/ebms              - ebMS3 message model and SOAP/MIME serializer
	github.com/sirosfoundation/go-msh/pkg/pmode             - P-Mode model, loading and selection
	github.com/sirosfoundation/go-msh/pkg/compression       - AS4 payload compression
	github.com/sirosfoundation/go-msh/pkg/discovery         - BDXL and SMP endpoint discovery
	github.com/sirosfoundation/go-msh/pkg/transport         - HTTP(S) client pool
	github.com/sirosfoundation/go-msh/internal/msh          - messaging context and agent engine
	github.com/sirosfoundation/go-msh/internal/runtime      - component registry and agent assembly
	github.com/sirosfoundation/go-msh/internal/steps        - pipeline steps
	github.com/sirosfoundation/go-msh/internal/storage      - repository with gorm and MongoDB backends
	github.com/sirosfoundation/go-msh/internal/bodystore    - message body store

# Running

	msh validate-pmodes --config msh.yaml
	msh run --config msh.yaml

See internal/config for the configuration file and examples/basic for
embedding the handler with custom steps.

# Specifications

  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - OASIS BDXL 1.0 and SMP 1.0/2.0: https://docs.oasis-open.org/bdxr/

# License

BSD-2-Clause License
*/
package gomsh
