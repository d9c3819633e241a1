package cluster

import (
	"context"
	"fmt"

	"df2redis/internal/endpoint"
	"df2redis/internal/resp"
)

// DiscoverFromSeed dials addr, asks it for CLUSTER NODES, and builds a
// SlotMap from the reply. This is a startup-only convenience: once
// built, the returned map is immutable for the lifetime of the run,
// matching the non-goal of tracking topology changes mid-run. Callers
// targeting a standalone server should skip this entirely.
func DiscoverFromSeed(ctx context.Context, addr, authUser, authPassword string, strict bool) (*SlotMap, []*NodeInfo, error) {
	ep, err := endpoint.Open(ctx, endpoint.Conf{
		Addr:         addr,
		DB:           -1,
		PipeBudget:   -1,
		AuthUser:     authUser,
		AuthPassword: authPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: discovery connect to %s: %w", addr, err)
	}
	defer endpoint.CloseQuietly(ep)

	reply, err := ep.Send("CLUSTER", "NODES")
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: CLUSTER NODES against %s: %w", addr, err)
	}
	text, err := resp.AsString(reply)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: unexpected CLUSTER NODES reply: %w", err)
	}

	nodes, err := ParseNodes(text, strict)
	if err != nil {
		return nil, nil, err
	}
	slotMap, err := Build(nodes)
	if err != nil {
		return nil, nil, err
	}
	return slotMap, nodes, nil
}
