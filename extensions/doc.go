// Package extensions keeps track of the extensions (for example test discoverers) that are available
// to a test host.
//
// Extensions are found by a Loader and cached per Kind in a Registry. The first lookup of a kind scans,
// every later lookup is served from the cache until the kind is reset. Implementations of
// extensions are only created on demand, see Descriptor.Implementation and Registry.LoadAndInitializeAll.
package extensions
