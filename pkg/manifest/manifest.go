// Package manifest implements the Manifest data model: the typed
// description of channels, requests, arguments, responses and models a
// server publishes and a client can fetch to drive validation.
package manifest

import (
	"regexp"

	"github.com/cockroachdb/errors"
)

// ArgType is the closed set of types an ArgManifest/ResponseManifest/
// ModelManifest field may declare.
type ArgType string

const (
	TypeString    ArgType = "string"
	TypeInteger   ArgType = "integer"
	TypeNumber    ArgType = "number"
	TypeBoolean   ArgType = "boolean"
	TypeArray     ArgType = "array"
	TypeObject    ArgType = "object"
	TypeNull      ArgType = "null"
	TypeReference ArgType = "reference"
)

func (t ArgType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject, TypeNull, TypeReference:
		return true
	default:
		return false
	}
}

// ReservedRequestNames is the set of built-in request names a Manifest
// may never declare, since they would shadow the dispatcher's built-in
// handlers.
var ReservedRequestNames = map[string]bool{
	"ping": true, "echo": true, "get_info": true, "validate": true,
	"slow_process": true, "manifest": true, "spec": true,
}

// ValidationManifest carries the optional length/range/pattern/enum
// constraints attached to an Arg/Response field.
type ValidationManifest struct {
	MinLength *int          `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int          `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Minimum   *float64      `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum   *float64      `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Pattern   string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum      []interface{} `json:"enum,omitempty" yaml:"enum,omitempty"`
}

func (v *ValidationManifest) validate() error {
	if v == nil {
		return nil
	}
	if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
		return errors.Newf("min_length %d exceeds max_length %d", *v.MinLength, *v.MaxLength)
	}
	if v.Minimum != nil && v.Maximum != nil && *v.Minimum > *v.Maximum {
		return errors.Newf("minimum %v exceeds maximum %v", *v.Minimum, *v.Maximum)
	}
	if v.Pattern != "" {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			return errors.Wrapf(err, "pattern %q does not compile", v.Pattern)
		}
	}
	return nil
}

// ArgManifest describes one argument, response field, or model
// property. The same shape serves all three roles (ArgManifest,
// ResponseManifest and ModelManifest share this type under different
// names in the spec).
type ArgManifest struct {
	Type       ArgType                `json:"type" yaml:"type"`
	Required   bool                   `json:"required,omitempty" yaml:"required,omitempty"`
	Items      *ArgManifest           `json:"items,omitempty" yaml:"items,omitempty"`
	Properties map[string]*ArgManifest `json:"properties,omitempty" yaml:"properties,omitempty"`
	Validation *ValidationManifest    `json:"validation,omitempty" yaml:"validation,omitempty"`
	ModelRef   string                 `json:"model_ref,omitempty" yaml:"model_ref,omitempty"`
}

func (a *ArgManifest) validate(path string) error {
	if a == nil {
		return nil
	}
	if !a.Type.valid() {
		return errors.Newf("%s: unknown type %q", path, a.Type)
	}
	if a.Properties != nil && a.Type != TypeObject {
		return errors.Newf("%s: properties is only valid when type=object", path)
	}
	if a.Items != nil && a.Type != TypeArray {
		return errors.Newf("%s: items is only valid when type=array", path)
	}
	if a.Type == TypeReference && a.ModelRef == "" {
		return errors.Newf("%s: type=reference requires model_ref", path)
	}
	if err := a.Validation.validate(); err != nil {
		return errors.Wrapf(err, "%s.validation", path)
	}
	if a.Items != nil {
		if err := a.Items.validate(path + ".items"); err != nil {
			return err
		}
	}
	for name, prop := range a.Properties {
		if err := prop.validate(path + ".properties." + name); err != nil {
			return err
		}
	}
	return nil
}

// ResponseManifest describes the shape of a successful handler result.
type ResponseManifest = ArgManifest

// ModelManifest describes a named, reusable object shape referenced via
// ArgManifest.ModelRef.
type ModelManifest = ArgManifest

// RequestManifest describes one request name within a channel.
type RequestManifest struct {
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Args        map[string]*ArgManifest `json:"args,omitempty" yaml:"args,omitempty"`
	Response    *ResponseManifest       `json:"response,omitempty" yaml:"response,omitempty"`
	ErrorCodes  []string                `json:"error_codes,omitempty" yaml:"error_codes,omitempty"`
}

func (r *RequestManifest) validate(name string) error {
	for argName, arg := range r.Args {
		if err := arg.validate(name + ".args." + argName); err != nil {
			return err
		}
	}
	if err := r.Response.validate(name + ".response"); err != nil {
		return err
	}
	for _, code := range r.ErrorCodes {
		if code == "" {
			return errors.Newf("%s: error_codes contains an empty string", name)
		}
	}
	return nil
}

// ChannelManifest groups related requests under a namespace. Channels
// are a Manifest-side organizational construct only: the wire protocol
// itself carries no channel field, and the dispatcher resolves an
// incoming request name against every channel's request map, first
// match wins (see Manifest.ResolveRequest).
type ChannelManifest struct {
	Description string                      `json:"description,omitempty" yaml:"description,omitempty"`
	Requests    map[string]*RequestManifest `json:"requests" yaml:"requests"`
}

func (c *ChannelManifest) validate(channelName string) error {
	if len(c.Requests) == 0 {
		return errors.Newf("channel %q must declare at least one request", channelName)
	}
	for reqName, req := range c.Requests {
		if ReservedRequestNames[reqName] {
			return errors.Newf("channel %q: request name %q is reserved", channelName, reqName)
		}
		if err := req.validate(channelName + "." + reqName); err != nil {
			return err
		}
	}
	return nil
}

// Manifest is the top-level document: Swift-channel-grouped requests
// plus a flat model namespace referenced by ArgManifest.ModelRef.
type Manifest struct {
	Version  string                      `json:"version" yaml:"version"`
	Name     string                      `json:"name,omitempty" yaml:"name,omitempty"`
	Channels map[string]*ChannelManifest `json:"channels,omitempty" yaml:"channels,omitempty"`
	Models   map[string]*ModelManifest   `json:"models,omitempty" yaml:"models,omitempty"`
}

// Validate runs the structural checks 4.3 requires: non-empty version,
// every channel has at least one request, no reserved request names,
// every pattern compiles, every validation's min/max invariants hold,
// error-code strings are non-empty, and every model_ref resolves
// (cycles are tolerated here; cycle detection is the traversal core's
// job at validation time, not the parser's).
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return errors.New("manifest version must not be empty")
	}
	for name, ch := range m.Channels {
		if err := ch.validate(name); err != nil {
			return err
		}
	}
	for name, model := range m.Models {
		if err := model.validate("models." + name); err != nil {
			return err
		}
	}
	if err := m.checkModelRefsResolve(); err != nil {
		return err
	}
	return nil
}

func (m *Manifest) checkModelRefsResolve() error {
	var walk func(a *ArgManifest, path string) error
	walk = func(a *ArgManifest, path string) error {
		if a == nil {
			return nil
		}
		if a.Type == TypeReference {
			if _, ok := m.Models[a.ModelRef]; !ok {
				return errors.Newf("%s: model_ref %q does not resolve", path, a.ModelRef)
			}
		}
		if a.Items != nil {
			if err := walk(a.Items, path+".items"); err != nil {
				return err
			}
		}
		for name, prop := range a.Properties {
			if err := walk(prop, path+".properties."+name); err != nil {
				return err
			}
		}
		return nil
	}
	for chName, ch := range m.Channels {
		for reqName, req := range ch.Requests {
			path := chName + "." + reqName
			for argName, arg := range req.Args {
				if err := walk(arg, path+".args."+argName); err != nil {
					return err
				}
			}
			if err := walk(req.Response, path+".response"); err != nil {
				return err
			}
		}
	}
	for name, model := range m.Models {
		if err := walk(model, "models."+name); err != nil {
			return err
		}
	}
	return nil
}

// ResolveRequest finds the RequestManifest for a given request name
// across all channels, first match wins in map-iteration order made
// deterministic by sorting channel names. Returns nil if not found in
// any channel.
func (m *Manifest) ResolveRequest(name string) (*RequestManifest, string, bool) {
	for _, chName := range sortedChannelNames(m.Channels) {
		if req, ok := m.Channels[chName].Requests[name]; ok {
			return req, chName, true
		}
	}
	return nil, "", false
}

// SortedArgNames returns an Args/Properties map's keys in sorted order,
// giving the Argument/Response Validators a deterministic traversal
// order so repeated runs over the same input report the same first
// violation.
func SortedArgNames(m map[string]*ArgManifest) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

func sortedChannelNames(m map[string]*ChannelManifest) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// Merge combines other into m, failing on any duplicate channel or
// model name (conflict detection per §4.3).
func (m *Manifest) Merge(other *Manifest) error {
	if m.Channels == nil {
		m.Channels = map[string]*ChannelManifest{}
	}
	if m.Models == nil {
		m.Models = map[string]*ModelManifest{}
	}
	for name, ch := range other.Channels {
		if _, exists := m.Channels[name]; exists {
			return errors.Newf("duplicate channel %q during manifest merge", name)
		}
		m.Channels[name] = ch
	}
	for name, model := range other.Models {
		if _, exists := m.Models[name]; exists {
			return errors.Newf("duplicate model %q during manifest merge", name)
		}
		m.Models[name] = model
	}
	return nil
}
