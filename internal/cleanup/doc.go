// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package cleanup implements the agent that purges expired records.

On every scheduled run the agent deletes messages and exceptions inserted
before now minus the retention period whose Operation is terminal or not
subject to processing (see entities.CleanableOperations). Reception
awareness and retry records of the deleted rows go with them, and their
stored bodies are removed from the body store on a best-effort basis.
Records that are in flight or waiting for a retry are never deleted.

The schedule accepts standard five-field cron expressions as well as
descriptors such as "@every 1h" or "@daily".
*/
package cleanup
