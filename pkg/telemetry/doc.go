// Package telemetry defines the payloads the SDK delivers to the collector.
// Each payload is stored as the JSON body of a queue task and posted
// unchanged by the collector client.
package telemetry
