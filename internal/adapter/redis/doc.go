// Package redis mirrors overlay views into Redis so other processes can read
// the latest view or follow changes over Pub/Sub.
//
// The client carries a metrics hook and a circuit breaker hook. Mirror writes
// are asynchronous and latest-wins; a slow Redis never blocks the supervisor.
package redis
