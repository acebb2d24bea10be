package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		op      tenantOp
		wantErr bool
	}{
		{"provision from empty state", "", opProvision, false},
		{"start not valid from empty state", "", opStart, true},
		{"start from provisioning", "provisioning", opStart, false},
		{"pair_start from provisioning", "provisioning", opPairStart, false},
		{"stop not valid from provisioning", "provisioning", opStop, true},
		{"stop from running", "running", opStop, false},
		{"restart from running", "running", opRestart, false},
		{"disconnect from running", "running", opDisconnect, false},
		{"delete from running", "running", opDelete, false},
		{"provision not valid from running", "running", opProvision, true},
		{"start from paused", "paused", opStart, false},
		{"stop not valid from paused", "paused", opStop, true},
		{"start from pending_pairing", "pending_pairing", opStart, false},
		{"start from error", "error", opStart, false},
		{"restart from error", "error", opRestart, false},
		{"no operation valid from deleted", "deleted", opStart, true},
		{"unknown state rejected", "bogus", opStart, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTransition(tt.state, tt.op)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckTransition_DeletedIsTerminal(t *testing.T) {
	for _, op := range []tenantOp{opProvision, opStart, opStop, opRestart, opPairStart, opDisconnect, opDelete} {
		err := checkTransition("deleted", op)
		assert.Error(t, err, "operation %q should not be valid from deleted", op)
	}
}
