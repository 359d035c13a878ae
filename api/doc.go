// Package api
// Author: momentics <momentics@gmail.com>
//
// Contract layer for hioload-remote: transport capabilities, the
// application receiver capability, and the shared error taxonomy.
// Implementation packages (transport, pool, protocol, remote) depend on
// api; api depends on nothing but the standard library.
package api
