// Package bus provides the in-process event dispatcher that decouples the
// radio link, the input watcher, and the role handlers.
//
// Topics are plain strings; payloads are whatever the publishing package
// documents. Delivery mode is declared at subscription time:
//
//   - Immediate subscribers run inline during Publish, in registration
//     order. Publish returns only after all of them have run.
//   - Deferred subscribers each run on their own goroutine, tracked in a
//     pending set that a background sweeper compacts. Drain joins every
//     pending task at shutdown.
//
// A faulty handler (error or panic) is logged and skipped; delivery to the
// remaining subscribers always continues. The dispatcher never crashes the
// device on a handler fault.
package bus
