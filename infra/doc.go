// Package infra holds the adapters behind core interfaces: the zerolog
// logger, metrics sinks, the MQTT and in-memory ledgers and the Kafka
// notification publisher.
package infra
