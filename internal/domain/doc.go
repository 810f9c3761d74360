// Package domain defines the core types of the mail dispatch subsystem.
//
// Types in this package are value objects shared by the renderer, the
// tracking injector, provider adapters, the dispatcher, the event log and
// the campaign workflow. They carry no database handles and no HTTP
// concerns.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
