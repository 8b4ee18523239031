package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errMissingTenant = errors.New("missing tenant_id")

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var tenant func() string
	switch {
	case strings.HasPrefix(subject, "elicitation."):
		p := &ElicitationPayload{}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		tenant = func() string { return p.TenantID }
	case strings.HasPrefix(subject, "batch."):
		p := &BatchPayload{}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		tenant = func() string { return p.TenantID }
	case strings.HasPrefix(subject, "escalation."):
		p := &EscalationPayload{}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		tenant = func() string { return p.TenantID }
	case subject == SubjectAbstention:
		p := &AbstentionPayload{}
		if err := json.Unmarshal(data, p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		tenant = func() string { return p.TenantID }
	default:
		return nil
	}

	if tenant() == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingTenant)
	}
	return nil
}
