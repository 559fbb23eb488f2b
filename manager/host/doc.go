// Package host talks to test hosts over HTTP.
//
// A host announces where it listens on its stdout, either as http+unix://<socket> or as
// http://<address>. WaitForHost reads that announcement, polls the health endpoint and returns an
// Endpoint to send requests to. Endpoint.Call is used for plain requests and Endpoint.Open for
// requests answered with a stream of newline delimited JSON, which JSONStream decodes.
//
// Hosts answer failed requests with an Error, which the orchestrator receives as error value.
// DecodeRequest validates incoming requests against a JSON schema on the host side.
package host
