package providers

import (
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// statusTables maps each provider's raw status vocabulary onto the canonical
// state machine. Tables are fixed per provider kind; adapters report their
// raw values verbatim.
var statusTables = map[domain.ProviderKind]map[string]domain.JobStatus{
	domain.ProviderSyncImage: {
		"succeeded": domain.JobStatusSucceeded,
		"failed":    domain.JobStatusFailed,
	},
	domain.ProviderGridAsyncImage: {
		"NOT_START":   domain.JobStatusQueued,
		"SUBMITTED":   domain.JobStatusQueued,
		"IN_PROGRESS": domain.JobStatusRunning,
		"SUCCESS":     domain.JobStatusSucceeded,
		"FAILURE":     domain.JobStatusFailed,
	},
	domain.ProviderAsyncVideo: {
		"submitted":  domain.JobStatusQueued,
		"processing": domain.JobStatusRunning,
		"succeed":    domain.JobStatusSucceeded,
		"failed":     domain.JobStatusFailed,
	},
}

// NormalizeStatus maps a raw provider status onto the canonical state
// machine. Unknown raw values are logged and treated as running so that an
// unrecognized vocabulary change can never trigger premature billing.
func NormalizeStatus(logger infra.Logger, kind domain.ProviderKind, raw string) domain.JobStatus {
	raw = strings.TrimSpace(raw)
	if table, ok := statusTables[kind]; ok {
		if status, ok := table[raw]; ok {
			return status
		}
	}
	logger.Warn().
		Str("provider", string(kind)).
		Str("raw_status", raw).
		Msg("normalizer: unknown raw status, treating as running")
	return domain.JobStatusRunning
}
