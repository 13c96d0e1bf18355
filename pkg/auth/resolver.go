package auth

import (
	"context"

	"github.com/stepflow/gateway/pkg/catalog"
	"github.com/stepflow/gateway/pkg/storage"
)

// Resolver picks the single applicable auth config for an endpoint.
// Resolution is a pure function of current configuration state: an
// endpoint-specific config wins over globals, globals are ranked by
// priority and then recency.
type Resolver struct {
	Directory catalog.Directory
}

// Resolve returns the winning config, nil when the endpoint needs no
// authentication, or a config error when the endpoint requires auth but
// nothing resolves.
func (r *Resolver) Resolve(ctx context.Context, endpoint catalog.Endpoint) (*storage.AuthConfigRecord, error) {
	configs, err := r.Directory.GetAuthConfigsForDocument(ctx, endpoint.DocumentID)
	if err != nil {
		return nil, WrapError(KindConfig, "loading auth configs", err)
	}

	var best *storage.AuthConfigRecord
	bestSpecific := false
	for i := range configs {
		config := &configs[i]
		if config.Status != storage.StatusActive {
			continue
		}
		specific := config.EndpointID != "" && config.EndpointID == endpoint.ID
		if config.EndpointID != "" && !specific {
			continue
		}
		if !specific && !config.Global {
			continue
		}
		if best == nil {
			best, bestSpecific = config, specific
			continue
		}
		if specific != bestSpecific {
			if specific {
				best, bestSpecific = config, specific
			}
			continue
		}
		if config.Priority != best.Priority {
			if config.Priority > best.Priority {
				best = config
			}
			continue
		}
		if config.UpdatedAt.After(best.UpdatedAt) {
			best = config
		}
	}

	if best == nil {
		if endpoint.AuthRequired {
			return nil, NewError(KindConfig, "authentication required but no config resolves")
		}
		return nil, nil
	}
	if best.Scheme == storage.SchemeNone {
		if best.Required || endpoint.AuthRequired {
			return nil, NewError(KindConfig, "authentication required but config scheme is none")
		}
		return nil, nil
	}
	copied := *best
	return &copied, nil
}
