// Package retry implements the uniform retry policy used for all
// remote operations: bounded attempts with exponential backoff and
// jitter, short-circuited by Permanent errors.
package retry
