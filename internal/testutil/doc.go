// Package testutil provides test fixtures and assertion helpers shared by
// crashlink's package tests.
package testutil
