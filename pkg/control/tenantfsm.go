package control

import "fmt"

// tenantOp names one tenant lifecycle operation, mirroring the worker's
// action names so a rejected transition and a rejected action token read
// the same way in logs.
type tenantOp string

const (
	opProvision  tenantOp = "provision"
	opStart      tenantOp = "start"
	opStop       tenantOp = "stop"
	opRestart    tenantOp = "restart"
	opPairStart  tenantOp = "pair_start"
	opDisconnect tenantOp = "whatsapp_disconnect"
	opDelete     tenantOp = "delete"
)

// validTransitions enumerates, per current desired state, which operations
// are legal: provision → running → paused → pending_pairing → ... →
// deleted. This validates an intent before it is persisted, rather than
// applying an already-committed change.
var validTransitions = map[string][]tenantOp{
	"":                {opProvision},
	"provisioning":    {opStart, opPairStart, opDelete},
	"running":         {opStop, opRestart, opPairStart, opDisconnect, opDelete},
	"paused":          {opStart, opDelete},
	"pending_pairing": {opStart, opRestart, opDelete},
	"error":           {opStart, opRestart, opDelete},
	"deleted":         {},
}

// checkTransition reports whether op is legal from currentState, returning
// a validation error naming both if not.
func checkTransition(currentState string, op tenantOp) error {
	allowed, ok := validTransitions[currentState]
	if !ok {
		return fmt.Errorf("unknown tenant state %q", currentState)
	}
	for _, a := range allowed {
		if a == op {
			return nil
		}
	}
	return fmt.Errorf("operation %q not valid from state %q", op, currentState)
}
