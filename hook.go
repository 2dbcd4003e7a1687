package framelink

import (
	"fmt"
	"sort"
)

// HookName identifies a host extension point. The set of hooks a compliant
// host will ever invoke is closed and enumerable via KnownHooks; unknown
// names are representable (a plugin may register them) but are never
// dispatched.
type HookName string

const (
	// HookOnBoot fires once after the plugin frame announces ready.
	HookOnBoot HookName = "onBoot"

	// HookValidateFieldParameters asks the plugin to validate the manual
	// parameters a user typed into a field-extension configuration form.
	HookValidateFieldParameters HookName = "validateManualFieldExtensionParameters"

	// HookRenderConfigScreen renders the plugin's global settings screen.
	HookRenderConfigScreen HookName = "renderConfigScreen"

	// HookRenderFieldExtension renders a field editor extension. The target
	// ID is the field being edited.
	HookRenderFieldExtension HookName = "renderFieldExtension"

	// HookRenderModal renders a modal dialog. The invocation stays open
	// until the guest resolves it; the handler only mounts UI.
	HookRenderModal HookName = "renderModal"

	// HookRenderSidebarPanel renders a collapsible panel in the record
	// editing sidebar. The target ID is the panel ID.
	HookRenderSidebarPanel HookName = "renderItemFormSidebarPanel"

	// HookRenderOutlet renders a free-form outlet above the record form.
	HookRenderOutlet HookName = "renderItemFormOutlet"

	// HookRenderPage renders a full-viewport custom page.
	HookRenderPage HookName = "renderPage"
)

// SizeMode declares who controls the frame's size for a rendering hook.
type SizeMode uint8

const (
	// SizeModeImposed: the host dictates a fixed size; the guest context
	// carries no sizing methods.
	SizeModeImposed SizeMode = iota
	// SizeModeAdjustable: the host picks an initial size; the guest may
	// call UpdateHeight explicitly.
	SizeModeAdjustable
	// SizeModeSelfResizing: the guest observes its own content size and
	// reports height changes continuously once StartAutoResizer is called.
	SizeModeSelfResizing
)

// String returns the size mode name
func (m SizeMode) String() string {
	switch m {
	case SizeModeImposed:
		return "imposed"
	case SizeModeAdjustable:
		return "adjustable"
	case SizeModeSelfResizing:
		return "self-resizing"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Shape is a JSON Schema (draft-7) document describing a payload.
// A nil Shape means "anything goes".
type Shape map[string]interface{}

// ContextShape declares what goes into a hook's ctx object: plain data
// fields materialized from the host snapshot, and host method names turned
// into remote-call stubs. Sizing and session methods are not listed here;
// they derive from the descriptor's SizeMode and Sessional flags.
type ContextShape struct {
	Data    Shape    `json:"data,omitempty"`
	Methods []string `json:"methods,omitempty"`
}

// HookDescriptor is the static definition of one hook kind, consulted by
// both frame sides to validate payload shapes and pick frame behavior.
// Descriptors are immutable after table construction.
type HookDescriptor struct {
	Name          HookName     `json:"name"`
	ArgumentShape Shape        `json:"argument_shape,omitempty"`
	ContextShape  ContextShape `json:"context_shape"`
	ReturnShape   Shape        `json:"return_shape,omitempty"`
	SizeMode      SizeMode     `json:"size_mode"`

	// Rendering marks hooks that own a visible frame and therefore a
	// FrameSession (modals, panels, outlets, pages).
	Rendering bool `json:"rendering"`

	// Sessional marks hooks whose invocation is not settled by the handler
	// returning; the guest settles it later via ctx.Resolve/Reject.
	Sessional bool `json:"sessional"`
}

// HasMethod reports whether the descriptor's context exposes a host method
// under the given name.
func (d *HookDescriptor) HasMethod(name string) bool {
	for _, m := range d.ContextShape.Methods {
		if m == name {
			return true
		}
	}
	return false
}

// Common host methods exposed to every rendering hook's context.
var commonRenderMethods = []string{
	"alert",
	"notice",
	"openModal",
	"navigateTo",
	"updatePluginParameters",
}

// builtinHooks is the closed descriptor table. Consulted by both frame
// sides; never mutated after init.
var builtinHooks = func() map[HookName]HookDescriptor {
	table := map[HookName]HookDescriptor{
		HookOnBoot: {
			Name: HookOnBoot,
			ContextShape: ContextShape{
				Methods: []string{"updatePluginParameters", "notice"},
			},
		},
		HookValidateFieldParameters: {
			Name: HookValidateFieldParameters,
			ArgumentShape: Shape{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]interface{}{"type": "object"},
			},
			ReturnShape: Shape{"type": "object"},
		},
		HookRenderConfigScreen: {
			Name:      HookRenderConfigScreen,
			SizeMode:  SizeModeSelfResizing,
			Rendering: true,
			ContextShape: ContextShape{
				Methods: commonRenderMethods,
			},
		},
		HookRenderFieldExtension: {
			Name: HookRenderFieldExtension,
			ArgumentShape: Shape{
				"type": "array",
				"items": []interface{}{
					map[string]interface{}{"type": "string"},
				},
			},
			SizeMode:  SizeModeSelfResizing,
			Rendering: true,
			ContextShape: ContextShape{
				Methods: append([]string{"setFieldValue", "getFieldValue"}, commonRenderMethods...),
			},
		},
		HookRenderModal: {
			Name: HookRenderModal,
			ArgumentShape: Shape{
				"type": "array",
				"items": []interface{}{
					map[string]interface{}{
						"type":     "object",
						"required": []interface{}{"id"},
						"properties": map[string]interface{}{
							"id": map[string]interface{}{"type": "string"},
						},
					},
				},
			},
			SizeMode:  SizeModeAdjustable,
			Rendering: true,
			Sessional: true,
			ContextShape: ContextShape{
				Methods: commonRenderMethods,
			},
		},
		HookRenderSidebarPanel: {
			Name:      HookRenderSidebarPanel,
			SizeMode:  SizeModeSelfResizing,
			Rendering: true,
			ContextShape: ContextShape{
				Methods: append([]string{"setFieldValue", "getFieldValue", "saveCurrentItem"}, commonRenderMethods...),
			},
		},
		HookRenderOutlet: {
			Name:      HookRenderOutlet,
			SizeMode:  SizeModeSelfResizing,
			Rendering: true,
			ContextShape: ContextShape{
				Methods: append([]string{"setFieldValue", "getFieldValue"}, commonRenderMethods...),
			},
		},
		HookRenderPage: {
			Name:      HookRenderPage,
			SizeMode:  SizeModeImposed,
			Rendering: true,
			ContextShape: ContextShape{
				Methods: commonRenderMethods,
			},
		},
	}
	return table
}()

// LookupHook returns the descriptor for a hook name. The returned pointer
// refers to a private copy; callers must not mutate it.
func LookupHook(name HookName) (*HookDescriptor, bool) {
	desc, ok := builtinHooks[name]
	if !ok {
		return nil, false
	}
	return &desc, true
}

// KnownHooks returns all hook names the host may invoke, sorted.
func KnownHooks() []HookName {
	names := make([]HookName, 0, len(builtinHooks))
	for name := range builtinHooks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
