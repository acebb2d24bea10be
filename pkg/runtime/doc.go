/*
Package runtime wraps containerd's client API to provision, start, stop,
and delete the single container each tenant runs its bridge process in.

Every tenant container lives in the "nexusd" containerd namespace, keyed by
tenant id. Provision creates the container from a ContainerSpec (image, env,
bind mounts built from the rendered compose topology and the tenant's
session/state volumes); Start/Stop/Restart/Delete manage its task. Combined
stdout/stderr is captured to one log file per tenant under the runtime's
logs directory, readable via Logs.
*/
package runtime
