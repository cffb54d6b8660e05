// Package api hosts the read-only REST handlers served next to /metrics while a
// job runs:
//   - GET /api/runs/{run_id} returns one crawl_runs document through the
//     store.RunReader interface.
package api
