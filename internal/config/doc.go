// Package config defines configuration structures for the
// clickup-images CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (CLICKUP_ prefix), optionally from a .env file
//   - YAML configuration file
//
// Precedence is flags over environment over file over defaults.
package config
