// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing helpers shared by the MSH agents.
//
// Metrics are registered once with [InitMetrics]; recording before
// registration is harmless. Spans use the globally registered tracer
// provider, so tracing costs nothing until a provider is installed.
package observability
