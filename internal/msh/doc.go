// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package msh contains the processing engine of the message service handler.
//
// An [Agent] takes items from a [Receiver], turns each into a
// [MessagingContext] with a [Transformer] and runs it through a pipeline of
// [Step] values. A step that reports a business failure hands the context to
// the agent's error pipeline; a step that returns an error or panics hands
// it to the [ExceptionHandler]. Every item ends in exactly one of these
// outcomes:
//
//   - the normal pipeline completed
//   - the error pipeline completed
//   - the transformer failed
//   - a normal pipeline step failed
//   - an error pipeline step failed
//
// Agents never call each other. They hand work on through the Operation and
// Status of persisted records; see the storage package.
package msh
