package process

import (
	"os"
	"testing"
)

func TestSampleResourcesInvalidPID(t *testing.T) {
	mem, cpu := sampleResources(0)
	if mem != nil || cpu != nil {
		t.Fatalf("expected nil samples for pid <= 0, got mem=%v cpu=%v", mem, cpu)
	}
	mem, cpu = sampleResources(-1)
	if mem != nil || cpu != nil {
		t.Fatalf("expected nil samples for negative pid, got mem=%v cpu=%v", mem, cpu)
	}
}

func TestSampleResourcesSelf(t *testing.T) {
	// Our own process is guaranteed to exist; RSS should come back non-nil.
	mem, _ := sampleResources(os.Getpid())
	if mem == nil {
		t.Skip("gopsutil could not read this process's memory info on this platform")
	}
	if *mem <= 0 {
		t.Fatalf("expected positive RSS for self, got %v", *mem)
	}
}
