// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package runtime assembles and runs the agents of an MSH instance.

Receivers, transformers, steps and exception handlers are resolved from
configuration keys to factories once, at startup, through a [Registry];
an unknown key fails startup. Every agent type (Submit, Send, Receive,
Deliver and so on) has a default definition, and a configured agent only
needs to name what it changes:

	agents:
	  - type: Deliver
	    receiver:
	      settings:
	        pollInterval: 2s
	        batchSize: "50"

The clean-up agent is always started unless disabled, and the health and
metrics server runs next to the agents when metrics are enabled. Agents
run concurrently; the first one to fail stops the others.
*/
package runtime
