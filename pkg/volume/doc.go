/*
Package volume manages per-tenant host directories bind-mounted into the
tenant's container: a session volume holding bridge auth state (so a
restart doesn't force re-pairing) and a state volume holding assistant
working state, plus the rendered env file path the worker writes the
active ConfigRevision to before each start.

Layout under the tenant root:

	<root>/<tenant-id>/session/
	<root>/<tenant-id>/state/
	<root>/<tenant-id>/env
*/
package volume
