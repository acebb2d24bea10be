/*
Package storage provides BoltDB-backed persistence for the control service's
state: users, tenants, their versioned config/prompt/skill artifacts, and the
per-tenant event log.

# Buckets

	users             (User ID)              users_by_email    (lower(email) -> User ID)
	tenants           (Tenant ID)            tenants_by_owner  (OwnerUserID -> Tenant ID)
	config_revisions  (tenant/rev)           config_active     (tenant -> rev)
	prompt_revisions  (tenant/name/rev)      prompt_active     (tenant/name -> rev)
	skill_revisions   (tenant/skill/rev)     skill_active      (tenant/skill -> rev)
	events            (global seq)           events_by_tenant  (tenant/seq)
	spent_refresh_tokens (jti -> expiry)

Every bucket stores JSON-marshaled values except the lookup buckets
(users_by_email, tenants_by_owner), which store the raw target id, and the
active-pointer and spent-token buckets, which store a raw big-endian uint64
or expiry timestamp.

Revisioned artifacts (config, prompts, skills) never overwrite history: each
Create call takes the bucket's next bbolt sequence number as the new revision,
flips the previous active revision's flag off, and writes both records in the
same transaction. Exactly one revision per key is ever marked active.
*/
package storage
