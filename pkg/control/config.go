package control

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/types"
)

var configKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateConfigKeys rejects any key that doesn't match configKeyPattern,
// returning the first offender. Applies to both initial-setup env and
// later patches, since both end up in the same rendered env-file.
func validateConfigKeys(values map[string]string) (badKey string, ok bool) {
	for k := range values {
		if !configKeyPattern.MatchString(k) {
			return k, false
		}
	}
	return "", true
}

// configView is the env the tenant owner set, decrypted. Encryption in
// pkg/security only protects the value at rest in the store; the owner who
// set a key gets it back in plain text.
type configView struct {
	TenantID string            `json:"tenant_id,omitempty"`
	Revision uint64            `json:"revision"`
	Env      map[string]string `json:"env_json"`
}

// HandleGetConfig returns the active config revision, decrypted.
func (c *Control) HandleGetConfig(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	rev, err := c.store.GetActiveConfigRevision(tenant.ID)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	if rev == nil {
		writeJSON(resp, http.StatusOK, configView{TenantID: tenant.ID, Env: map[string]string{}})
		return
	}
	plain, err := c.secrets.DecryptEnv(rev.Env)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusOK, configView{TenantID: tenant.ID, Revision: rev.Revision, Env: plain})
}

type patchConfigRequest struct {
	Values     map[string]string `json:"values"`
	RemoveKeys []string          `json:"remove_keys"`
}

// HandlePatchConfig merges values into the active config, removes any
// remove_keys, encrypts sensitive values, and creates a new active revision.
// CreateConfigRevision deactivates the prior revision in the same
// transaction, so there is never a moment with two active revisions.
func (c *Control) HandlePatchConfig(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}

	var body patchConfigRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeValidationError(resp, "invalid_request_body")
		return
	}
	if _, ok := validateConfigKeys(body.Values); !ok {
		writeValidationError(resp, "malformed_config_key")
		return
	}

	active, err := c.store.GetActiveConfigRevision(tenant.ID)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	merged := map[string]string{}
	if active != nil {
		plain, err := c.secrets.DecryptEnv(active.Env)
		if err != nil {
			writeInternalError(resp, err)
			return
		}
		merged = plain
	}
	for k, v := range body.Values {
		merged[k] = v
	}
	for _, k := range body.RemoveKeys {
		delete(merged, k)
	}

	sealed, err := c.secrets.EncryptEnv(merged)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	rev, err := c.store.CreateConfigRevision(&types.ConfigRevision{TenantID: tenant.ID, Env: sealed, CreatedAt: time.Now()})
	if err != nil {
		writeInternalError(resp, err)
		return
	}

	c.publishConfigApplied(tenant.ID, rev.Revision)
	writeJSON(resp, http.StatusOK, configView{TenantID: tenant.ID, Revision: rev.Revision, Env: merged})
}

func (c *Control) publishConfigApplied(tenantID string, revision uint64) {
	if _, err := c.bus.Publish(tenantID, bus.ConfigAppliedPayload{Revision: revision}); err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("publish config.applied")
	}
}

// HandleListPrompts returns every active prompt for the tenant.
func (c *Control) HandleListPrompts(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	prompts, err := c.store.ListActivePrompts(tenant.ID)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusOK, prompts)
}

type putPromptRequest struct {
	Content string `json:"content"`
}

// HandlePutPrompt creates a new active revision for the named prompt.
func (c *Control) HandlePutPrompt(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	name := mux.Vars(req)["name"]
	var body putPromptRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeValidationError(resp, "invalid_request_body")
		return
	}
	rev, err := c.store.CreatePromptRevision(&types.PromptRevision{
		TenantID:  tenant.ID,
		Name:      name,
		Content:   body.Content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusOK, rev)
}

// HandleListSkills returns every active skill for the tenant.
func (c *Control) HandleListSkills(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	skills, err := c.store.ListActiveSkills(tenant.ID)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusOK, skills)
}

type putSkillRequest struct {
	Content string `json:"content"`
}

// HandlePutSkill creates a new active revision for the named skill.
func (c *Control) HandlePutSkill(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	skillID := mux.Vars(req)["skill_id"]
	var body putSkillRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeValidationError(resp, "invalid_request_body")
		return
	}
	rev, err := c.store.CreateSkillRevision(&types.SkillRevision{
		TenantID:  tenant.ID,
		SkillID:   skillID,
		Content:   body.Content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusOK, rev)
}
