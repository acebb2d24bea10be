// Package worker implements the worker plane: it receives signed actions
// from the control service for a single tenant, drives that tenant's
// container through containerd, and forwards the container's bridge events
// back to control.
//
// Architecture
//
// One worker process owns an arbitrary number of tenants, each mapped to
// one containerd container with two bind-mounted volumes ("session" and
// "state", see pkg/volume) and an env file rendered from the tenant's
// active config revision (see pkg/compose). Lifecycle operations
// (provision, start, stop, restart, apply_config, pair_start,
// whatsapp_disconnect, delete, health) are exposed over HTTP, authenticated
// by a bearer action token scoped to both the tenant id in the request path
// and the action name of the route (pkg/security.ActionSigner).
//
// Per-tenant exclusivity is enforced by a string-keyed mutex table so two
// concurrent requests for the same tenant serialize, while different
// tenants proceed independently.
//
// The worker does not read the control plane's durable store directly. It
// keeps its own small local record per tenant (state.go) tracking desired
// and observed container state, the image in use, and the last known
// pairing baseline. Control is the source of truth for everything else
// (users, config revisions, prompts, skills); the worker only ever
// receives what it needs to act, as the body of a signed action request.
//
// Bridge ingestion
//
// Each running tenant has one goroutine dialing that tenant's Unix socket
// bridge ingress, decoding newline-delimited JSON events, and forwarding
// them to control's event ingestion endpoint (pkg/client.BridgeForwarder),
// authenticated with a static shared bridge token rather than an action
// token, since this call runs in the opposite direction from every other
// worker API call.
package worker
