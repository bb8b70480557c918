// Package api implements the HTTP REST API and WebSocket server for Pourwell Core.
//
// This package provides:
//   - REST endpoints for pump bindings, recipes, dispensing and maintenance
//   - WebSocket hub broadcasting pour progress as it happens
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API is the backend of the touchscreen and the browser configuration
// page. Dispense requests return at once with the dispense ID; clients
// follow progress over the WebSocket (pour.updated, dispense.completed),
// usually by following just their own dispense with ?topics=dispense:<id>,
// or by polling GET /api/v1/dispenses/{id}.
//
// # Graceful Degradation
//
// The server operates without MQTT, InfluxDB or a history database;
// the corresponding metrics and history endpoints report what is missing.
package api
