package pilot

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/hypervisor"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

// ResolveMachines fills node, type and name of configured machines from the
// cluster inventory. The inventory is only fetched when some entry lacks its
// node or type.
func ResolveMachines(ctx context.Context, client hypervisor.Client, vms []MachineConfig, logger logging.Logger) ([]machine.Spec, error) {
	specs := make([]machine.Spec, 0, len(vms))
	needsInventory := false
	for _, vm := range vms {
		spec := vm.Spec()
		if spec.Node == "" || spec.Type == "" {
			needsInventory = true
		}
		specs = append(specs, spec)
	}
	if !needsInventory {
		return specs, nil
	}

	logger.Infof("Resolving machines from cluster inventory, machines: %d", len(specs))

	inventory, err := client.ListAll(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster machines: %w", err)
	}

	collection := errors.NewErrorCollection()
	for i := range specs {
		spec := &specs[i]
		info, found := inventory[spec.ID]
		if !found {
			collection.Add(errors.NewNotFoundError(
				fmt.Sprintf("machine %d not found on the cluster", spec.ID), nil,
			).WithContext("vm_id", spec.ID))
			continue
		}
		if spec.Node != "" && spec.Node != info.Node {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("machine %d is on node %s, configured node is %s", spec.ID, info.Node, spec.Node), nil,
			).WithContext("vm_id", spec.ID))
			continue
		}
		if spec.Type != "" && spec.Type != info.Type {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("machine %d is a %s, configured type is %s", spec.ID, info.Type, spec.Type), nil,
			).WithContext("vm_id", spec.ID))
			continue
		}

		spec.Node = info.Node
		spec.Type = info.Type
		if spec.Name == "" {
			spec.Name = info.Name
		}
		logger.Debugf("Resolved machine, id: %d, node: %s, type: %s, name: %s", spec.ID, spec.Node, spec.Type, spec.Name)
	}

	if err := collection.ToError(); err != nil {
		return nil, errors.NewValidationError("failed to resolve machines", err)
	}
	return specs, nil
}
