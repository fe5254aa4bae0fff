// Package tools translates catalog tools into the function-calling schema of
// the completion service, and provides typed tools served in-process.
package tools
