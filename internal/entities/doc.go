// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package entities defines the records the MSH persists and the Operation
state machine that agents use to coordinate through storage.

A record advances through

	ToBeProcessed -> Processing -> ToBeX -> X-ing -> X-ed | DeadLettered

where X is Send, Deliver, Forward or Notify. NotApplicable and Undetermined
mark records that are outside this machine. [MessageEntity.Lock] and
[ExceptionEntity.Lock] ignore those sentinel values, so claiming with an
empty or invalid target state never changes a record.
*/
package entities
