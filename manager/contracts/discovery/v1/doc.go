// Package v1 contains the contracts and types for talking to a test host that performs discovery.
//
// The contracts are categorized based on their functionality:
//
//   - DiscoveryHostContract: Defines the orchestrator facing calls of a discovery session.
//   - EventStream: The ordered stream of events a host emits for a single discovery request.
//
// The types define the request, response and event structures exchanged with the host.
// Every message is JSON encoded. Events are sent as newline delimited JSON.
package v1
