package control

import (
	"time"

	"github.com/nexusd/nexusd/pkg/types"
)

// defaultPrompts and defaultSkills are the content applyBootstrap writes
// the first time a tenant reaches running. Embedding them here keeps the
// bootstrap self-contained; a tenant is free to overwrite any of them
// afterward through the prompt/skill revision endpoints.
var defaultPrompts = map[string]string{
	"system": "You are the assistant bridging this WhatsApp account. Be concise and helpful.",
}

var defaultSkills = map[string]string{
	"reminders": "Track reminders the user asks for and notify them when due.",
}

// applyBootstrap writes the default prompt/skill revisions for tenant and
// marks it bootstrapped, if it has not been bootstrapped already. The
// bootstrap_applied flag and the revisions it guards are written inside the
// same pass so a retried status check after a partial failure re-attempts
// cleanly: UpdateTenant only flips the flag once every revision write has
// succeeded.
func (c *Control) applyBootstrap(tenant *types.Tenant) (bool, error) {
	if tenant.BootstrapApplied {
		return false, nil
	}

	now := time.Now()
	for name, content := range defaultPrompts {
		if _, err := c.store.CreatePromptRevision(&types.PromptRevision{
			TenantID:  tenant.ID,
			Name:      name,
			Content:   content,
			CreatedAt: now,
		}); err != nil {
			return false, err
		}
	}
	for skillID, content := range defaultSkills {
		if _, err := c.store.CreateSkillRevision(&types.SkillRevision{
			TenantID:  tenant.ID,
			SkillID:   skillID,
			Content:   content,
			CreatedAt: now,
		}); err != nil {
			return false, err
		}
	}

	tenant.BootstrapApplied = true
	if err := c.store.UpdateTenant(tenant); err != nil {
		return false, err
	}
	return true, nil
}
