// Package event defines the closed set of change events that flow from the
// subscription source to the sink. Payloads are tagged with a resource type so
// downstream consumers can be statically typed per resource instead of passing
// untyped blobs around.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceType identifies one of the live data collections the POS client
// subscribes to.
type ResourceType string

const (
	ResourceOrders    ResourceType = "orders"
	ResourceTables    ResourceType = "tables"
	ResourceMenu      ResourceType = "menu"
	ResourceInventory ResourceType = "inventory"
	ResourceVendors   ResourceType = "vendors"
	ResourceReceipts  ResourceType = "receipts"
)

// AllResourceTypes lists every supported resource type, in stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceOrders,
		ResourceTables,
		ResourceMenu,
		ResourceInventory,
		ResourceVendors,
		ResourceReceipts,
	}
}

// ParseResourceType validates a wire-level resource type string.
func ParseResourceType(s string) (ResourceType, error) {
	switch rt := ResourceType(s); rt {
	case ResourceOrders, ResourceTables, ResourceMenu,
		ResourceInventory, ResourceVendors, ResourceReceipts:
		return rt, nil
	}
	return "", fmt.Errorf("unknown resource type: %q", s)
}

// Action describes what happened to a record.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ChangeEvent is a single change to one record of a resource collection.
type ChangeEvent struct {
	Type      ResourceType    `json:"type"`
	Action    Action          `json:"action"`
	Record    json.RawMessage `json:"record"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks that the event carries a known resource type and action and
// a non-empty record. Called at the sink boundary before dispatch.
func (e *ChangeEvent) Validate() error {
	if _, err := ParseResourceType(string(e.Type)); err != nil {
		return err
	}
	switch e.Action {
	case ActionInsert, ActionUpdate, ActionDelete:
	default:
		return fmt.Errorf("unknown action: %q", e.Action)
	}
	if len(e.Record) == 0 {
		return fmt.Errorf("event for %s has empty record", e.Type)
	}
	return nil
}

// Decode parses a raw payload from the subscription source into a ChangeEvent
// and validates it.
func Decode(payload []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to parse change event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return e, nil
}
