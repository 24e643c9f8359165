package bus

import (
	"testing"
	"time"
)

func TestTopicRegistryShape(t *testing.T) {
	tests := []struct {
		name        string
		partitions  int32
		retention   time.Duration
		compression string
	}{
		{"employee.onboard", 12, 7 * day, CompressionSnappy},
		{"employee.exit", 12, 30 * day, CompressionSnappy},
		{"employee.transfer", 12, 7 * day, CompressionSnappy},
		{"employee.update", 12, 3 * day, CompressionSnappy},
		{"workflow.run.request", 24, day, CompressionSnappy},
		{"node.execute.request", 24, day, CompressionSnappy},
		{"node.execute.result", 24, 3 * day, CompressionSnappy},
		{"audit.events", 12, 90 * day, CompressionGzip},
		{"metrics.events", 6, 7 * day, CompressionSnappy},
		{"quarantine.queue", 3, 30 * day, CompressionGzip},
		{"manual.review.queue", 3, 30 * day, CompressionGzip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := LookupTopic(tt.name)
			if !ok {
				t.Fatalf("topic %s not registered", tt.name)
			}
			if tc.Partitions != tt.partitions {
				t.Errorf("partitions = %d, want %d", tc.Partitions, tt.partitions)
			}
			if tc.Retention != tt.retention {
				t.Errorf("retention = %v, want %v", tc.Retention, tt.retention)
			}
			if tc.Compression != tt.compression {
				t.Errorf("compression = %q, want %q", tc.Compression, tt.compression)
			}
			if tc.ReplicationFactor != 3 {
				t.Errorf("replication = %d, want 3", tc.ReplicationFactor)
			}
			if tc.MinInSyncReplicas != 2 {
				t.Errorf("min insync = %d, want 2", tc.MinInSyncReplicas)
			}
		})
	}
}

func TestLookupTopicDynamicNames(t *testing.T) {
	tenant, ok := LookupTopic("employee.onboard.org-42")
	if !ok {
		t.Fatal("tenant topic should inherit base config")
	}
	if tenant.Partitions != 12 || tenant.Name != "employee.onboard.org-42" {
		t.Errorf("tenant config = %+v", tenant)
	}

	dlq, ok := LookupTopic("dlq.employee.exit")
	if !ok {
		t.Fatal("dlq topic should resolve")
	}
	if dlq.Retention != 30*day || dlq.Compression != CompressionGzip {
		t.Errorf("dlq config = %+v", dlq)
	}

	if _, ok := LookupTopic("unknown.topic"); ok {
		t.Error("unknown topic should not resolve")
	}
}

func TestOrgAndDLQNaming(t *testing.T) {
	if got := OrgTopic("employee.onboard", "org-1"); got != "employee.onboard.org-1" {
		t.Errorf("OrgTopic = %q", got)
	}
	if got := DLQTopic("employee.onboard"); got != "dlq.employee.onboard" {
		t.Errorf("DLQTopic = %q", got)
	}
}

func TestTopicsMatching(t *testing.T) {
	tests := []struct {
		pattern string
		want    int
	}{
		{"employee.*", 4},
		{"workflow.run.*", 4},
		{"identity.provision.*", 2},
		{"audit.events", 1},
		{"nothing.*", 0},
	}

	for _, tt := range tests {
		if got := TopicsMatching(tt.pattern); len(got) != tt.want {
			t.Errorf("TopicsMatching(%q) = %v, want %d names", tt.pattern, got, tt.want)
		}
	}
}

func TestGlobToRegex(t *testing.T) {
	tests := []struct {
		pattern string
		match   []string
		reject  []string
	}{
		{
			pattern: "dlq.*",
			match:   []string{"dlq.employee.onboard", "dlq.x"},
			reject:  []string{"employee.onboard", "notdlq.x"},
		},
		{
			pattern: "employee.*",
			match:   []string{"employee.onboard", "employee.onboard.org-1"},
			reject:  []string{"employees.onboard"},
		},
	}

	for _, tt := range tests {
		re, err := GlobToRegex(tt.pattern)
		if err != nil {
			t.Fatalf("GlobToRegex(%q) error = %v", tt.pattern, err)
		}
		for _, s := range tt.match {
			if !re.MatchString(s) {
				t.Errorf("%q should match %q", tt.pattern, s)
			}
		}
		for _, s := range tt.reject {
			if re.MatchString(s) {
				t.Errorf("%q should not match %q", tt.pattern, s)
			}
		}
	}
}

func TestFullTopology(t *testing.T) {
	topology := FullTopology()
	names := make(map[string]bool, len(topology))
	for _, tc := range topology {
		names[tc.Name] = true
	}

	if !names["dlq.employee.onboard"] || !names["dlq.workflow.run.request"] {
		t.Error("expected dead-letter topics for non-terminal topics")
	}
	if names["dlq.quarantine.queue"] || names["dlq.manual.review.queue"] {
		t.Error("terminal queues must not get dead-letter topics")
	}
}

func TestGroupRegistry(t *testing.T) {
	want := []string{
		"workflow-engine", "identity-service", "email-service",
		"calendar-service", "slack-service", "document-service",
		"ai-service", "audit-service", "webhook-gateway",
		"scheduler-service", "dlq-handler",
	}
	for _, name := range want {
		gc, ok := LookupGroup(name)
		if !ok {
			t.Errorf("group %s not registered", name)
			continue
		}
		if len(gc.Subscriptions) == 0 {
			t.Errorf("group %s has no subscriptions", name)
		}
		if gc.SessionTimeout != 30*time.Second || gc.HeartbeatInterval != 3*time.Second {
			t.Errorf("group %s session tuning = %v/%v", name, gc.SessionTimeout, gc.HeartbeatInterval)
		}
	}
	if len(Groups()) != len(want) {
		t.Errorf("registered groups = %d, want %d", len(Groups()), len(want))
	}
}
