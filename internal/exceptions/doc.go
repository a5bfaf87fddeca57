// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package exceptions implements the msh.ExceptionHandler variants the agents
use when a transformer or step fails.

Every failure is stored as an InException or OutException record carrying
the exception text, the referenced ebMS message id and the P-Mode in force.
When no message id is known the raw body is kept in the body store so an
operator can inspect it. The record the failed item was about is released:
messages get status Exception and records claimed by the failing agent are
dead-lettered.

Exceptions are queued for notification (ToBeNotified) only when the P-Mode
asks for it. Failures of the notify agent itself are never notified again.
*/
package exceptions
