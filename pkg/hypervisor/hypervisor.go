package hypervisor

import (
	"context"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

// Client is the hypervisor capability the orchestrator drives.
// Errors are DomainErrors: network for transport failures, permission for
// rejected credentials, not_found for unknown machines and hypervisor for
// any other API failure.
type Client interface {
	Start(ctx context.Context, spec machine.Spec) error
	Stop(ctx context.Context, spec machine.Spec) error
	GetStatus(ctx context.Context, spec machine.Spec) (machine.RunState, error)

	// ListAll lists every machine on node, or on all nodes when node is empty.
	ListAll(ctx context.Context, node string) (map[machine.ID]machine.Info, error)
}

// IsTransportError reports whether err came from talking to the hypervisor
// rather than from a configuration problem.
func IsTransportError(err error) bool {
	return errors.IsNetworkError(err) ||
		errors.IsPermissionError(err) ||
		errors.IsHypervisorError(err)
}
