// Package validate implements the Argument Validator and Response
// Validator: two traversals of the same Manifest-described shape tree,
// one stopping at the first violation (Argument Validator, applied to
// inbound request args) and one collecting every violation (Response
// Validator, applied to outbound handler results).
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/janusipc/janus/pkg/manifest"
	"github.com/janusipc/janus/pkg/wire"
)

// maxReferenceDepth bounds recursion through type=reference chains,
// guarding against a cyclic model graph (A refers to B refers to A).
const maxReferenceDepth = 32

// FieldError is one validator violation, carrying the dotted/bracketed
// field path (`a.b[3].c`) the spec requires for diagnostics.
type FieldError struct {
	Path    string
	Message string
	Model   string // populated only for reference-type mismatches
}

func (e FieldError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s: %s (model %s)", e.Path, e.Message, e.Model)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Result is the Response Validator's structured, never-panics outcome.
type Result struct {
	Valid           bool
	Errors          []FieldError
	ElapsedMS       float64
	FieldsValidated int
}

type regexCache struct {
	patterns map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{patterns: map[string]*regexp.Regexp{}}
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.patterns[pattern] = re
	return re, nil
}

// traversal holds the state shared by both validator entry points: the
// model namespace for reference resolution and a compiled-pattern cache.
// The Response Validator's error/field lists are passed alongside it.
type traversal struct {
	models   map[string]*manifest.ModelManifest
	patterns *regexCache
}

func newTraversal(models map[string]*manifest.ModelManifest) *traversal {
	return &traversal{models: models, patterns: newRegexCache()}
}

// ValidateArguments is the Argument Validator: it returns the first
// violation encountered, deterministically, as an *invalid_params*
// FieldError, or nil if every declared argument is present, typed, and
// constrained correctly, and no unknown argument names appear.
func ValidateArguments(args map[string]wire.Value, specs map[string]*manifest.ArgManifest, models map[string]*manifest.ModelManifest) *FieldError {
	t := newTraversal(models)

	var unknown []string
	for name := range args {
		if _, declared := specs[name]; !declared {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &FieldError{Path: unknown[0], Message: "unknown argument"}
	}

	names := manifest.SortedArgNames(specs)
	for _, name := range names {
		spec := specs[name]
		val, present := args[name]
		if !present || val.IsNull() {
			if spec.Required {
				return &FieldError{Path: name, Message: "required argument is missing"}
			}
			continue
		}
		if err := t.checkValue(val, spec, name, 0); err != nil {
			return err
		}
	}
	return nil
}

// ValidateResponse is the Response Validator: it traverses result
// against the ResponseManifest, collecting every violation rather than
// stopping at the first, and reports elapsed time and fields visited.
// It never panics; malformed input yields a Result with Valid=false.
func ValidateResponse(result wire.Value, spec *manifest.ResponseManifest, models map[string]*manifest.ModelManifest) Result {
	start := time.Now()
	t := newTraversal(models)
	var errs []FieldError
	fields := 0
	t.collectValue(result, spec, "$", 0, &errs, &fields)
	return Result{
		Valid:           len(errs) == 0,
		Errors:          errs,
		ElapsedMS:       float64(time.Since(start).Microseconds()) / 1000.0,
		FieldsValidated: fields,
	}
}

func (t *traversal) checkValue(val wire.Value, spec *manifest.ArgManifest, path string, depth int) *FieldError {
	if depth > maxReferenceDepth {
		return &FieldError{Path: path, Message: "reference depth exceeds maximum (possible cycle)"}
	}

	if spec.Type == manifest.TypeReference {
		model, ok := t.models[spec.ModelRef]
		if !ok {
			return &FieldError{Path: path, Message: "reference does not resolve", Model: spec.ModelRef}
		}
		if err := t.checkValue(val, model, path, depth+1); err != nil {
			err.Model = spec.ModelRef
			return err
		}
		return nil
	}

	if err := t.checkType(val, spec.Type, path); err != nil {
		return err
	}

	switch spec.Type {
	case manifest.TypeString:
		s, _ := val.AsString()
		if err := t.checkStringConstraints(s, spec, path); err != nil {
			return err
		}
	case manifest.TypeInteger, manifest.TypeNumber:
		n, _ := val.AsFloat64()
		if err := t.checkNumericConstraints(n, spec, path); err != nil {
			return err
		}
	case manifest.TypeArray:
		arr, _ := val.AsArray()
		if spec.Items != nil {
			for i, elem := range arr {
				elemPath := fmt.Sprintf("%s[%d]", path, i)
				if err := t.checkValue(elem, spec.Items, elemPath, depth); err != nil {
					return err
				}
			}
		}
	case manifest.TypeObject:
		obj, _ := val.AsObject()
		for _, propName := range manifest.SortedArgNames(spec.Properties) {
			propSpec := spec.Properties[propName]
			propPath := path + "." + propName
			propVal, present := obj[propName]
			if !present || propVal.IsNull() {
				if propSpec.Required {
					return &FieldError{Path: propPath, Message: "required argument is missing"}
				}
				continue
			}
			if err := t.checkValue(propVal, propSpec, propPath, depth); err != nil {
				return err
			}
		}
	}

	if spec.Validation != nil && len(spec.Validation.Enum) > 0 {
		if err := t.checkEnum(val, spec.Validation.Enum, path); err != nil {
			return err
		}
	}
	return nil
}

func (t *traversal) checkType(val wire.Value, typ manifest.ArgType, path string) *FieldError {
	ok := false
	switch typ {
	case manifest.TypeString:
		_, ok = val.AsString()
	case manifest.TypeInteger:
		ok = val.IsIntegral() && (val.Kind() == wire.KindInt64 || val.Kind() == wire.KindFloat64)
	case manifest.TypeNumber:
		_, ok = val.AsFloat64()
	case manifest.TypeBoolean:
		_, ok = val.AsBool()
	case manifest.TypeArray:
		_, ok = val.AsArray()
	case manifest.TypeObject:
		_, ok = val.AsObject()
	case manifest.TypeNull:
		ok = val.IsNull()
	default:
		ok = true
	}
	if !ok {
		return &FieldError{Path: path, Message: fmt.Sprintf("expected type %s, got %s", typ, val.Kind())}
	}
	return nil
}

func (t *traversal) checkStringConstraints(s string, spec *manifest.ArgManifest, path string) *FieldError {
	if spec.Validation == nil {
		return nil
	}
	v := spec.Validation
	if v.MinLength != nil && len(s) < *v.MinLength {
		return &FieldError{Path: path, Message: fmt.Sprintf("length %d is below minimum %d", len(s), *v.MinLength)}
	}
	if v.MaxLength != nil && len(s) > *v.MaxLength {
		return &FieldError{Path: path, Message: fmt.Sprintf("length %d exceeds maximum %d", len(s), *v.MaxLength)}
	}
	if v.Pattern != "" {
		re, err := t.patterns.compile(v.Pattern)
		if err != nil {
			return &FieldError{Path: path, Message: "pattern does not compile"}
		}
		if !re.MatchString(s) {
			return &FieldError{Path: path, Message: fmt.Sprintf("value does not match pattern %q", v.Pattern)}
		}
	}
	return nil
}

func (t *traversal) checkNumericConstraints(n float64, spec *manifest.ArgManifest, path string) *FieldError {
	if spec.Validation == nil {
		return nil
	}
	v := spec.Validation
	if v.Minimum != nil && n < *v.Minimum {
		return &FieldError{Path: path, Message: fmt.Sprintf("value %s is below minimum %v", strconv.FormatFloat(n, 'g', -1, 64), *v.Minimum)}
	}
	if v.Maximum != nil && n > *v.Maximum {
		return &FieldError{Path: path, Message: fmt.Sprintf("value %s exceeds maximum %v", strconv.FormatFloat(n, 'g', -1, 64), *v.Maximum)}
	}
	return nil
}

func (t *traversal) checkEnum(val wire.Value, enum []interface{}, path string) *FieldError {
	for _, candidate := range enum {
		cv, err := wire.FromInterface(candidate)
		if err != nil {
			continue
		}
		if val.Equal(cv) {
			return nil
		}
	}
	return &FieldError{Path: path, Message: "value is not a member of the declared enum"}
}

// collectValue mirrors checkValue but never stops, appending to errs and
// incrementing *fields for every node visited, used by the Response
// Validator.
func (t *traversal) collectValue(val wire.Value, spec *manifest.ArgManifest, path string, depth int, errs *[]FieldError, fields *int) {
	if spec == nil {
		return
	}
	*fields++
	if depth > maxReferenceDepth {
		*errs = append(*errs, FieldError{Path: path, Message: "reference depth exceeds maximum (possible cycle)"})
		return
	}

	if spec.Type == manifest.TypeReference {
		model, ok := t.models[spec.ModelRef]
		if !ok {
			*errs = append(*errs, FieldError{Path: path, Message: "reference does not resolve", Model: spec.ModelRef})
			return
		}
		before := len(*errs)
		t.collectValue(val, model, path, depth+1, errs, fields)
		for i := before; i < len(*errs); i++ {
			if (*errs)[i].Model == "" {
				(*errs)[i].Model = spec.ModelRef
			}
		}
		return
	}

	if err := t.checkType(val, spec.Type, path); err != nil {
		*errs = append(*errs, *err)
		return
	}

	switch spec.Type {
	case manifest.TypeString:
		s, _ := val.AsString()
		if err := t.checkStringConstraints(s, spec, path); err != nil {
			*errs = append(*errs, *err)
		}
	case manifest.TypeInteger, manifest.TypeNumber:
		n, _ := val.AsFloat64()
		if err := t.checkNumericConstraints(n, spec, path); err != nil {
			*errs = append(*errs, *err)
		}
	case manifest.TypeArray:
		arr, _ := val.AsArray()
		if spec.Items != nil {
			for i, elem := range arr {
				t.collectValue(elem, spec.Items, fmt.Sprintf("%s[%d]", path, i), depth, errs, fields)
			}
		}
	case manifest.TypeObject:
		obj, _ := val.AsObject()
		for _, propName := range manifest.SortedArgNames(spec.Properties) {
			propSpec := spec.Properties[propName]
			propVal, present := obj[propName]
			propPath := path + "." + propName
			if !present || propVal.IsNull() {
				if propSpec.Required {
					*errs = append(*errs, FieldError{Path: propPath, Message: "required field is missing"})
				}
				continue
			}
			t.collectValue(propVal, propSpec, propPath, depth, errs, fields)
		}
	}

	if spec.Validation != nil && len(spec.Validation.Enum) > 0 {
		if err := t.checkEnum(val, spec.Validation.Enum, path); err != nil {
			*errs = append(*errs, *err)
		}
	}
}
