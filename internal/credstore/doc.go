// Package credstore provides persistent storage for the identity session
// record that survives between CLI invocations.
//
// Three backends with different security and deployment tradeoffs:
//   - File: local filesystem storage with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows
//     Credential Manager, Linux Secret Service)
//   - Env: read-only environment variable access, for externally-managed
//     sessions in CI-style environments
//
// Login and logout require writable storage (file or keyring); env-backed
// storage can only be read.
package credstore
