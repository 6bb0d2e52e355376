// Package auth provides authentication and authorisation for Blinky Core.
//
// The gateway is headless with a single operator account defined in
// config, so there is no user database:
//   - Argon2id password hashing (OWASP 2025 recommendation), with the
//     operator's hash stored in config as a PHC string
//   - Stateless HS256 JWT access tokens validated by signature only
//   - Short-lived WebSocket upgrade tickets, since browsers cannot set
//     Authorization headers on WebSocket dials
//   - A two-tier role model (viewer → operator)
package auth
