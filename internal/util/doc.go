// Package util provides small string helpers shared across crashlink packages.
//
// Key utilities:
//   - SafeTruncate: truncates identifiers before they are written to logs
//   - TruncateRunes: truncates user-supplied text without splitting characters
//   - FirstLine: extracts the headline of a multi-line message
//   - NormalizeURL: strips trailing slashes before joining URL paths
package util
