// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package senders hands deliver and notify envelopes to business
// applications.
//
// The method type of a P-Mode selects the sender:
//
//	FILE   writes <message id>.xml into the "location" directory
//	HTTP   posts to "url"
//	KAFKA  publishes to "topic" on "brokers"
//
// Every send reports whether it succeeded, may be retried, or failed for
// good. The deliver and notify steps use that to schedule retries.
package senders
