// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ebms provides the ebMS 3.0 message model used by the MSH.

An [AS4Message] groups the message units carried by one SOAP envelope
(user messages and signal messages) together with the MIME attachments
that travel alongside it.

# Building Messages

	um := ebms.NewUserMessage(
	    ebms.WithFrom("org:holodeckb2b:example:company:A", "Sender"),
	    ebms.WithTo("org:eu:europa:as4:example", "Receiver"),
	    ebms.WithService("getting:started", ""),
	    ebms.WithAction("StoreMessage"),
	)
	msg := ebms.NewAS4Message(um)
	msg.AddAttachment(ebms.NewAttachment("payload", "application/xml", file))

# Signals

Receipts and errors reference the message they answer:

	receipt := ebms.NewReceipt(um.MessageID())
	failure := ebms.NewError(um.MessageID(), ebms.ErrProcessingModeMismatch, "no pmode")

# Serialization

[MIMESerializer] writes a SOAP 1.2 envelope, wrapped in a multipart/related
package when the message has attachments, and reads both forms back.

# References

  - OASIS ebMS 3.0 Core: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - AS4 Profile: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package ebms
