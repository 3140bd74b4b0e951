package definition

import (
	"testing"

	"github.com/resolvehq/caseflow/model"
)

func registryDefs() []model.WorkflowDefinition {
	return []model.WorkflowDefinition{
		{ID: "wf-a", Name: "A", ComplaintTypeID: "ct-1", IsActive: true, Checksum: "aaa"},
		{ID: "wf-b", Name: "B", ComplaintTypeID: "ct-2", IsActive: false, Checksum: "bbb"},
	}
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry(registryDefs())

	def, ok := reg.Get("wf-a")
	if !ok || def.Name != "A" {
		t.Errorf("Get(wf-a) = %+v, %v", def, ok)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) should not succeed")
	}
	if reg.Len() != 2 {
		t.Errorf("Len = %d", reg.Len())
	}
}

func TestRegistry_GetForComplaintType(t *testing.T) {
	reg := NewRegistry(registryDefs())

	def, ok := reg.GetForComplaintType("ct-1")
	if !ok || def.ID != "wf-a" {
		t.Errorf("GetForComplaintType(ct-1) = %+v, %v", def, ok)
	}

	// Inactive definitions never claim a complaint type.
	if _, ok := reg.GetForComplaintType("ct-2"); ok {
		t.Error("inactive definition should not be bound to its complaint type")
	}
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry(registryDefs())
	before := reg.Checksum()

	reg.Replace([]model.WorkflowDefinition{
		{ID: "wf-c", Name: "C", Checksum: "ccc"},
	})

	if _, ok := reg.Get("wf-a"); ok {
		t.Error("wf-a should be gone after Replace")
	}
	if _, ok := reg.Get("wf-c"); !ok {
		t.Error("wf-c should be present after Replace")
	}
	if reg.Checksum() == before {
		t.Error("checksum should change after Replace")
	}
}
