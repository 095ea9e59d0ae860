// Package api implements the HTTP surface of Tasklane Core's credential
// and authorisation engine.
//
// This package provides:
//   - Token issue, refresh and revocation (/auth/token)
//   - Sysadmin elevation (/auth/elevation)
//   - Thin user and project membership endpoints that exercise the Authorisor
//   - Prometheus metrics and a health endpoint
//
// # Security
//
// Credentials are opaque bearer tokens of the form base64(userID:hex). The
// server stores only their hashes. Responses to failed authentication are
// held until a fixed time after the request arrived so that timing does not
// reveal which check failed; expired tokens are reported immediately.
// Clients that keep failing are blocked with 403 by the anti-hammering guard.
//
// # Status Mapping
//
//	400  malformed header, token or body
//	401  bad credentials or unknown token (delayed), expired token (not delayed)
//	403  permission denied, elevation refused, client blocked
//	500  storage failure (delayed on auth routes)
package api
