// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package receivers implements the sources agents take their items from.
//
//   - [HTTPReceiver] accepts AS4 messages pushed by other MSHs
//   - [DatastoreReceiver] claims stored records waiting for the next stage
//   - [DirectoryReceiver] picks up submissions dropped into a directory
//
// Each receiver closes the terminal context the agent returns for an item.
package receivers
