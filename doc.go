// Package hitreplay replays HTTP access log entries as analytics
// tracking events against a remote analytics backend. It detects the
// log format, filters and enriches each line into a normalized hit,
// resolves the destination site, and records hits through a pool of
// concurrent HTTP workers.
package hitreplay
