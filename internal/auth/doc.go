// Package auth implements operator bearer tokens for the rover controller.
//
// The console mints short-lived HS256 tokens and attaches them to every
// outbound request and the speech channel dial. The rover mock verifies the
// same tokens with Middleware when it shares the secret.
//
//   - Authorization: Bearer <token> on every request except /health and /video_feed
//   - operator: control, camera and speech scopes
//   - observer: camera scope only
package auth
