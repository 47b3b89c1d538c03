/*
Package inmemory provides a map-backed low-level block store.

It keeps every block in process memory and is used in tests and as the
backend of throwaway stores. All operations are safe for concurrent use.
*/
package inmemory
