// Package api provides the HTTP REST surface for lockstead-core.
//
// Every endpoint is a thin wrapper over one engine, bridge, or coordinator
// operation; no enforcement logic lives here. Requests authenticate with a
// bearer JWT signed by the configured shared secret, and errors come back
// as structured JSON with stable codes (device_not_found, already_locked,
// permission_denied, remote_unavailable).
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
