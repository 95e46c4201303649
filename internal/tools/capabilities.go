package tools

import (
	"context"
	"encoding/json"

	"github.com/nidhogg/nuka-capabilities/internal/capability"
)

const (
	RegisterCapabilities = "register_agent_capabilities"
	GetCapabilities      = "get_agent_capabilities"
	ListCapabilities     = "list_all_capabilities"
	DeactivateCapability = "deactivate_capability"
)

// RegisterCapabilityTools adds the four capability registry tools.
func RegisterCapabilityTools(reg *Registry, svc *capability.Service) {
	reg.Register(Definition{
		Name:        RegisterCapabilities,
		Description: "Register or update skills/capabilities for an agent",
		InputSchema: capability.RegisterSchema,
	}, func(ctx context.Context, args json.RawMessage) (capability.Envelope, error) {
		in, err := capability.ParseRegister(args)
		if err != nil {
			return nil, err
		}
		return svc.Register(ctx, in), nil
	})

	reg.Register(Definition{
		Name:        GetCapabilities,
		Description: "Retrieve all skills/capabilities for a specific agent",
		InputSchema: capability.GetSchema,
	}, func(ctx context.Context, args json.RawMessage) (capability.Envelope, error) {
		in, err := capability.ParseGet(args)
		if err != nil {
			return nil, err
		}
		return svc.Get(ctx, in), nil
	})

	reg.Register(Definition{
		Name:        ListCapabilities,
		Description: "List all capabilities across all agents with grouping options",
		InputSchema: capability.ListSchema,
	}, func(ctx context.Context, args json.RawMessage) (capability.Envelope, error) {
		in, err := capability.ParseList(args)
		if err != nil {
			return nil, err
		}
		return svc.List(ctx, in), nil
	})

	reg.Register(Definition{
		Name:        DeactivateCapability,
		Description: "Mark a capability as inactive for an agent",
		InputSchema: capability.DeactivateSchema,
	}, func(ctx context.Context, args json.RawMessage) (capability.Envelope, error) {
		in, err := capability.ParseDeactivate(args)
		if err != nil {
			return nil, err
		}
		return svc.Deactivate(ctx, in), nil
	})
}
