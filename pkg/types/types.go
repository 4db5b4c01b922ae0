// Package types defines the core data structures shared across ddfrontier's
// packages: the crawl request itself, queue statistics, and the small
// side-table records (login credentials) that ride alongside the frontier.
package types

import "time"

// Request is a single crawl candidate: a URL with a priority assigned by an
// external scorer and the crawl depth at which it was discovered.
//
// Priority fits a signed 32-bit integer; Depth is clamped to a signed
// 16-bit range when encoded (see pkg/codec).
type Request struct {
	URL      string
	Priority int32
	Depth    int32
}

// QueueInfo describes one per-domain queue as reported by Stats.
type QueueInfo struct {
	Key         string
	Priority    int32 // top (highest) priority currently queued
	Cardinality int64
}

// Stats is the aggregate snapshot returned by Queue.Stats.
type Stats struct {
	Len      int64
	NDomains int
	Queues   []QueueInfo
}

// LoginCredentials pairs a login/password with the URL prefix it applies to.
type LoginCredentials struct {
	URL      string
	Login    string
	Password string
}

// Epoch captures a worker's view of the live fleet at the moment it last
// ran discovery: its own index and the total number of live workers.
type Epoch struct {
	Index     int
	NWorkers  int
	UpdatedAt time.Time
}
