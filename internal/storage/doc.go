// Package storage persists device preferences (a small string KV) and the
// server-side registered user list.
//
// Drivers: memory (go-cache), file (snapshot + journal), sqlite (modernc) and
// redis (go-redis). All drivers are safe for concurrent use.
package storage
