package cluster

import (
	"fmt"
	"strconv"
	"strings"

	"df2redis/internal/endpoint"
)

// NodeInfo describes one line of a nodes.conf-style cluster
// description: id host:port@cport flags master-id ping-sent pong-recv
// epoch link-state slot-ranges...
type NodeInfo struct {
	ID     string
	Addr   string
	Flags  []string
	Master string
	Slots  [][2]int // slot ranges [lo, hi], inclusive
}

// IsMaster reports whether this node is a primary.
func (n *NodeInfo) IsMaster() bool {
	for _, f := range n.Flags {
		if f == "master" {
			return true
		}
	}
	return false
}

// ParseNodes parses nodes.conf/CLUSTER NODES-formatted output. Slot
// ranges tagged as migrating ("[N-<-id]") or importing ("[N->-id]")
// are unstable and rejected with *endpoint.ConfigError in strict mode;
// when strict is false they are skipped (the slot is left to another
// line, or to fail total-coverage verification in Build).
func ParseNodes(output string, strict bool) ([]*NodeInfo, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var nodes []*NodeInfo

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, fmt.Errorf("cluster: invalid nodes line: %s", line)
		}

		node := &NodeInfo{
			ID:     fields[0],
			Addr:   normalizeAddr(fields[1]),
			Flags:  strings.Split(fields[2], ","),
			Master: fields[3],
		}

		for i := 8; i < len(fields); i++ {
			slotField := fields[i]
			if strings.HasPrefix(slotField, "[") {
				if strict {
					return nil, &endpoint.ConfigError{
						Msg: fmt.Sprintf("unstable slot range %q for node %s: migrating/importing slots are rejected in strict mode", slotField, node.ID),
					}
				}
				continue
			}
			slotRange, err := parseSlotRange(slotField)
			if err != nil {
				return nil, fmt.Errorf("cluster: slot range %q: %w", slotField, err)
			}
			node.Slots = append(node.Slots, slotRange)
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// normalizeAddr strips the "@busport" suffix some cluster descriptions
// append to the client-facing address.
func normalizeAddr(addr string) string {
	if idx := strings.Index(addr, "@"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// parseSlotRange parses a single slot token: "N" or "N-M".
func parseSlotRange(s string) ([2]int, error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return [2]int{}, err
	}
	if len(parts) == 1 {
		return [2]int{lo, lo}, nil
	}
	hi, err := strconv.Atoi(parts[1])
	if err != nil {
		return [2]int{}, err
	}
	return [2]int{lo, hi}, nil
}
