// Package mock has test doubles for the pull path: a scripted in-memory fetch
// service with one script per pull attempt, a fake Docker Engine that streams
// the same scripts as JSON over HTTP, and throwaway certificates for TLS tests.
package mock
