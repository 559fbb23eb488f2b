// Package provider supplies the mechanics to bring up a test host and to take it down again.
// The connection manager only needs a started or attached [types.Host] from a Provider;
// it never spawns processes itself.
//
//   - ProcessProvider starts a host binary with a serialized [types.Config] and pipes its stdout
//     ( location line ) and stderr ( logs ) back to the orchestrator.
//   - AttachProvider hands out a host that is already listening at a known location.
package provider
