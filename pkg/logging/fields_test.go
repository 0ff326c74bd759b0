package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestFields_Component(t *testing.T) {
	fields := NewFields().Component("queue")
	if fields["component"] != "queue" {
		t.Errorf("Component() = %v, want queue", fields["component"])
	}
}

func TestFields_Resource(t *testing.T) {
	fields := NewFields().Resource("task", "t-1")
	if fields["resource_type"] != "task" {
		t.Errorf("resource_type = %v, want task", fields["resource_type"])
	}
	if fields["resource_name"] != "t-1" {
		t.Errorf("resource_name = %v, want t-1", fields["resource_name"])
	}
}

func TestFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("task", "")
	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestFields_Duration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)
	if fields["duration_ms"] != int64(150) {
		t.Errorf("duration_ms = %v, want 150", fields["duration_ms"])
	}
}

func TestFields_Error(t *testing.T) {
	fields := NewFields().Error(errors.New("boom"))
	if fields["error"] != "boom" {
		t.Errorf("error = %v, want boom", fields["error"])
	}
}

func TestFields_ErrorNil(t *testing.T) {
	fields := NewFields().Error(nil)
	if _, exists := fields["error"]; exists {
		t.Error("Error(nil) should not set error field")
	}
}

func TestFields_Pairs(t *testing.T) {
	fields := NewFields().Component("queue").Channel("alpha")
	pairs := fields.Pairs()
	if len(pairs) != 4 {
		t.Fatalf("Pairs() len = %d, want 4", len(pairs))
	}
}
