// Package api implements the read-only operations HTTP API for stolenwatch.
//
// It lets an operator check that the daemon is alive and seeded and browse
// the recent alert decisions without opening the SQLite file:
//
//	GET /api/v1/health   liveness plus database reachability
//	GET /api/v1/status   poller status (seeded, known devices, last cycle)
//	GET /api/v1/alerts   audit trail, filtered by action / device_id / limit
//
// There are no write endpoints and no authentication; bind it to a
// loopback or management interface.
package api
