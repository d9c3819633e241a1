package cluster

import "testing"

const sampleNodesOutput = `
07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected
67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922
292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003@31003 master - 0 1426238318243 3 connected 10923-16383
e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001@31001 myself,master - 0 0 1 connected 0-5460
`

func TestParseNodesAssignsSlotsAndFlags(t *testing.T) {
	nodes, err := ParseNodes(sampleNodesOutput, false)
	if err != nil {
		t.Fatalf("ParseNodes: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("len(nodes) = %d, want 4", len(nodes))
	}

	var masters, replicas int
	for _, n := range nodes {
		if n.IsMaster() {
			masters++
		} else {
			replicas++
		}
		if n.Addr == "" || n.Addr[len(n.Addr)-1] == '@' {
			t.Errorf("node %s: Addr %q still carries the bus-port suffix", n.ID, n.Addr)
		}
	}
	if masters != 3 {
		t.Errorf("masters = %d, want 3", masters)
	}
	if replicas != 1 {
		t.Errorf("replicas = %d, want 1", replicas)
	}

	sm, err := Build(nodes)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := sm.OwnerOfSlot(0).ID; got != "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca" {
		t.Errorf("slot 0 owner = %s", got)
	}
	if got := sm.OwnerOfSlot(16383).ID; got != "292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f" {
		t.Errorf("slot 16383 owner = %s", got)
	}
}

func TestParseNodesRejectsUnstableSlotsInStrictMode(t *testing.T) {
	const line = "67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922 [1000-<-292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f]"
	if _, err := ParseNodes(line, true); err == nil {
		t.Fatal("ParseNodes: expected error for migrating slot range in strict mode, got nil")
	}
	nodes, err := ParseNodes(line, false)
	if err != nil {
		t.Fatalf("ParseNodes (non-strict): %v", err)
	}
	if len(nodes) != 1 || len(nodes[0].Slots) != 1 {
		t.Fatalf("non-strict parse should keep the stable range and skip the unstable one: %+v", nodes)
	}
}

func TestParseNodesRejectsShortLine(t *testing.T) {
	if _, err := ParseNodes("only two fields", false); err == nil {
		t.Fatal("ParseNodes: expected error for too few fields, got nil")
	}
}
