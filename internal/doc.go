// Package internal contains the implementation packages of sectional.
//
// # Package Organization
//
//   - resolver: maps template names to files under the configured roots
//     and rejects names or symlinks that would leave them
//   - liquid: the template document model, tokenizer and DocumentBuilder
//     with its tag registry and include-depth guard
//   - section: the section, include, form and schema tags
//   - cache: parse caches keyed by content hash (memory, disk, sqlite),
//     with Prometheus instrumentation
//   - renderer: wires resolver, builder, tags and cache from configuration
//   - server: the preview server with live reload and scheduled pruning
//   - watcher: debounced file system monitoring for live reload
//   - config, errors, logging, version: shared infrastructure
//
// # Rendering Flow
//
// A render reads the top-level template through the resolver and builds
// it with the DocumentBuilder. Section and include tags resolve their own
// files, look the parsed document up in the cache by content hash and
// build it on a miss. Section output is wrapped in a marker element whose
// class list comes from the section's schema block.
package internal
