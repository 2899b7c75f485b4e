// Package fixtures holds shared identities and topology documents for
// tests across packages. It imports nothing from the module so any package
// may use it from its internal tests.
package fixtures

// Users and runs.
const (
	UserID    = "user-abc-123"
	AltUserID = "user-def-456"
	RunID     = "run-001"
	AltRunID  = "run-002"

	SessionSecret = "test-session-secret-0123456789abcdef"
	SessionIssuer = "isolation-test"
)

// Services of the chat topology.
const (
	ServiceDB    = "db"
	ServiceAuth  = "auth"
	ServiceLLM   = "llm"
	ServiceCache = "cache"
)

// ChatTopologyYAML registers db, auth, llm and cache and three
// capabilities. ai_chat survives an llm outage through cache; login is
// degraded by an auth outage; search is disabled once db is down.
const ChatTopologyYAML = `policy:
  global_failure_threshold: 0.5
services:
  - name: db
    preset: database
  - name: auth
  - name: llm
    preset: llm
  - name: cache
capabilities:
  - name: ai_chat
    priority: critical
    dependencies: [llm, db]
    fallbacks:
      llm: [cache]
  - name: login
    priority: high
    dependencies: [auth, db]
  - name: search
    priority: low
    dependencies: [db]
    required: [db]
`
