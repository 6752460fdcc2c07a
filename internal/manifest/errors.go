package manifest

import (
	"fmt"
	"strconv"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes reported by Load.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"

	ErrCodeSchema        = "E201" // value violates the deployment schema
	ErrCodeMissing       = "E202" // no deployment struct
	ErrCodeUnknownPolicy = "E203" // policy name or identity not registered
	ErrCodeDuplicate     = "E204" // whitelist entry repeated
)

// LoadError is a manifest error with its CUE source position, if known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// fromCUE converts each CUE error into a positioned LoadError.
//
// Unification failures such as empty disjunctions often report no position,
// or only one inside the schema, so the failing field's position in src is
// preferred. src is the user's value, or the zero Value when nothing was
// built.
func fromCUE(code string, err error, src cue.Value) []error {
	var out []error
	for _, e := range cueerrors.Errors(err) {
		le := &LoadError{Code: code, Message: e.Error(), Pos: errorPos(e, src)}
		out = append(out, le)
	}
	if len(out) == 0 {
		out = append(out, &LoadError{Code: code, Message: err.Error()})
	}
	return out
}

func errorPos(e cueerrors.Error, src cue.Value) token.Pos {
	path := e.Path()
	if p := fieldPos(src, path, true); p.IsValid() {
		return p
	}
	var schemaPos token.Pos
	for _, p := range cueerrors.Positions(e) {
		if p.Filename() != schemaFilename {
			return p
		}
		if !schemaPos.IsValid() {
			schemaPos = p
		}
	}
	if p := fieldPos(src, path, false); p.IsValid() {
		return p
	}
	return schemaPos
}

// fieldPos returns the source position of the value at path in src. Unless
// exact is set it walks back to the closest ancestor that exists.
func fieldPos(src cue.Value, path []string, exact bool) token.Pos {
	if !src.Exists() || len(path) == 0 {
		return token.NoPos
	}
	for n := len(path); n > 0; n-- {
		sels := make([]cue.Selector, n)
		for i, label := range path[:n] {
			if idx, err := strconv.Atoi(label); err == nil {
				sels[i] = cue.Index(idx)
			} else {
				sels[i] = cue.Str(label)
			}
		}
		if v := src.LookupPath(cue.MakePath(sels...)); v.Exists() && v.Pos().IsValid() {
			return v.Pos()
		}
		if exact {
			return token.NoPos
		}
	}
	return src.Pos()
}
