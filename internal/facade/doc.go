// Package facade implements the transport-independent Query Facade:
// submit_query, get_status, and reload_config, each running on the Engine
// through the Task Queue so every transport shares the same serialization.
package facade
