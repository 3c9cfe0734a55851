// Package knox is the client for the fleet-management device directory.
//
// It covers the three upstream calls stolenwatch needs:
//
//   - Token: an OAuth2 client-credentials grant against the token endpoint.
//     A fresh token is requested every time; nothing is cached.
//   - Snapshot: the paginated device list, filtered to devices carrying one
//     exact tag value.
//   - Locate: the last reported position of one device.
//
// All calls are form-encoded POSTs. Every response is wrapped in an envelope
// whose resultCode must be "0". Failures are classified as ErrNetwork
// (transport, timeouts, non-2xx status) or ErrUpstreamProtocol (the upstream
// answered but the payload is unusable).
//
// Client implements tracker.TokenSource and tracker.Directory.
package knox
