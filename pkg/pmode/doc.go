// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package pmode provides Processing Mode (P-Mode) configuration for the MSH.

A [SendingProcessingMode] governs how submitted messages are packaged, where
they are pushed and how receipts, errors and exceptions are reported back to
the producer. A [ReceivingProcessingMode] carries the matching criteria for
inbound user messages and says whether they are delivered or forwarded.

# Loading P-Modes

P-Modes are YAML files, one per file, read from a sending and a receiving
directory. Environment variables are expanded before parsing:

	src, err := pmode.LoadDirectories("pmodes/sending", "pmodes/receiving")

# Selecting a Receiving P-Mode

The [Selector] sums the points of each [Rule] per P-Mode and picks the
strictly highest total:

	PModeId             30  AgreementRef/@pmode names the P-Mode
	AgreementRef         4  agreement name and type are equal
	PartyInfo         0-16  sender and receiver constraints
	UndefinedPartyInfo   7  the P-Mode constrains no party
	ServiceAction        3  service and action are equal

A tie or an all-zero result is a configuration error:

	pm, err := pmode.NewSelector().Select(src.ReceivingPModes(), um)
	if errors.Is(err, pmode.ErrPModeConfiguration) {
	    // answer with EBMS:0010
	}

Extra rules can be added without changing the selector:

	sel := pmode.NewSelector(append(pmode.DefaultRules(), myRule)...)
*/
package pmode
