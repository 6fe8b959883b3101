// Package reporting collects execution telemetry ("stats") from test
// processes.
//
// A Reporter is started, receives stats through Emit while started, and
// is stopped. Emit on a stopped reporter is silently dropped so call sites
// can stay unconditional.
//
// Reporters compose:
//
//   - MetaReporter fans every call out to a set of child reporters.
//   - MemoryReporter keeps stats in memory.
//   - StreamReporter writes stats as JSON lines to a writer or file.
//   - SlaveReporter forwards stats to a master over TCP.
//   - MasterReporter accepts slave connections and delivers the stats it
//     receives to a sink.
//
// The master/slave wire format is newline-delimited JSON objects; a stat
// whose encoding contains a newline is not supported.
package reporting
