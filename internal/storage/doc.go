// Package storage provides the optional fire-audit persistence layer.
//
// The trigger engine itself never persists fire events; the daemon
// subscribes a storage consumer like any other, so auditing rides the
// same dispatch path (and the same failure isolation) as downstream
// pipelines.
package storage
