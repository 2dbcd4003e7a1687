package framelink

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ShapeError reports a payload that failed JSON Schema validation against a
// hook descriptor's declared shape.
type ShapeError struct {
	Hook    HookName
	Subject string // "arguments", "return", "context data"
	Details []string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("hook %q %s shape validation failed: %s",
		e.Hook, e.Subject, strings.Join(e.Details, "; "))
}

// ValidateShape validates a value against a Shape. A nil shape accepts
// anything. Schema compilation failures surface as errors too: a broken
// descriptor must not silently pass payloads.
func ValidateShape(shape Shape, value interface{}) ([]string, error) {
	if shape == nil {
		return nil, nil
	}

	schemaLoader := gojsonschema.NewGoLoader(map[string]interface{}(shape))
	docLoader := gojsonschema.NewGoLoader(value)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return details, nil
}

// ValidateArgs validates hook invocation arguments against the descriptor's
// argument shape.
func (d *HookDescriptor) ValidateArgs(args []interface{}) error {
	details, err := ValidateShape(d.ArgumentShape, args)
	if err != nil {
		return err
	}
	if len(details) > 0 {
		return &ShapeError{Hook: d.Name, Subject: "arguments", Details: details}
	}
	return nil
}

// ValidateReturn validates a handler's return value against the
// descriptor's return shape.
func (d *HookDescriptor) ValidateReturn(value interface{}) error {
	details, err := ValidateShape(d.ReturnShape, value)
	if err != nil {
		return err
	}
	if len(details) > 0 {
		return &ShapeError{Hook: d.Name, Subject: "return", Details: details}
	}
	return nil
}

// ValidateContextData validates the data portion of a built context against
// the descriptor's context shape.
func (d *HookDescriptor) ValidateContextData(data interface{}) error {
	details, err := ValidateShape(d.ContextShape.Data, data)
	if err != nil {
		return err
	}
	if len(details) > 0 {
		return &ShapeError{Hook: d.Name, Subject: "context data", Details: details}
	}
	return nil
}
