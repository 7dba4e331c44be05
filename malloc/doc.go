// Package malloc is the coordination front end of the allocator: the glue
// between the public allocation API and the arena, huge-object, cache, and
// profiling subsystems underneath it.
//
// # Lifecycle
//
// An Allocator boots lazily on its first allocation. Bootstrap is a
// strictly ordered, one-time sequence protected by an init lock; concurrent
// first allocations wait for the initializer, and the initializer's own
// recursive allocations (environment probes may allocate) are served by a
// single bootstrap arena that exists before the full directory does.
//
// # Threads
//
// Go has no usable thread-local storage, so per-thread allocator state is
// an explicit Thread handle: arena binding, thread cache, profiling
// countdown, and allocation counters. Handles are cheap, single-owner, and
// released explicitly. The Allocator-level convenience methods share one
// internal handle for callers that do not care.
//
// # Dispatch
//
// Requests resolve to a usable size class, take a profiling sampling
// decision (sampled small objects are promoted to the smallest large class
// so they can be tracked individually), and then route: small sizes through
// the thread cache and arena bins, large sizes through arena cells, and
// anything above half a chunk through the huge-object registry.
//
// # Forking
//
// BeforeFork, AfterForkParent, and AfterForkChild quiesce every subsystem
// lock in a fixed order around a process fork, so the child never inherits
// a lock frozen mid-critical-section.
package malloc
