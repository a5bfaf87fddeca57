// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression implements AS4 payload compression.

A compressed part keeps its original media type in the MimeType part
property and is marked with CompressionType application/gzip; the
receiving MSH restores both:

	c := compression.Default()
	if compression.ShouldCompress(att.ContentType) {
	    err = c.CompressAttachment(att)
	}
	...
	err = c.DecompressAttachment(att)

Decompression is bounded (see [WithMaxSize]) so a small part cannot expand
without limit.
*/
package compression
