// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package steps implements the pipeline steps of the MSH agents.

Steps share their collaborators through [Deps]. They read and change
records only through the repository and hand work to the next agent by
moving a record's Operation:

	Submit:              RetrieveSendingPMode, CreateAS4Message, StoreAS4Message
	Outbound processing: CompressAttachments, SetMessageToBeSent
	Send:                SendAS4Message
	Receive:             DeserializeMessage, DeterminePModes, DecompressAttachments,
	                     StoreReceivedMessage, CreateReceipt (error pipeline: CreateError)
	Deliver:             SendDeliverMessage
	Forward:             CreateForwardMessage
	Notify:              SendNotifyMessage
	Reception awareness: ReceptionAwarenessUpdate
	Retry:               Retry

A step returns an error only for failures the exception handler has to
record. Failures the sender has to be told about are reported with
[msh.FailedWith] so the error pipeline can answer with an ebMS error.
Failures that are retried later are reported with [msh.Failed] after the
retry has been scheduled.
*/
package steps
