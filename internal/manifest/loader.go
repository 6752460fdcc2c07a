package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/passvault/internal/ir"
)

type rawFunding struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

type rawDeployment struct {
	Authority     string       `json:"authority"`
	DefaultPolicy string       `json:"default_policy"`
	Whitelist     []string     `json:"whitelist"`
	CommitTTL     int64        `json:"commit_ttl"`
	MaxMessageAge int64        `json:"max_message_age"`
	Fees          Fees         `json:"fees"`
	Funding       []rawFunding `json:"funding"`
}

// Load builds the manifest in dir. All schema violations are reported,
// each with its source position.
func Load(dir string) (*Manifest, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, fromCUE(ErrCodeLoadFailed, inst.Err, cue.Value{})
	}

	value := ctx.BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err, cue.Value{})
	}
	m, errs := compile(ctx, value)
	if m != nil {
		m.FileCount = len(files)
	}
	return m, errs
}

// LoadString builds a manifest from a single CUE source, for tests and
// embedded defaults.
func LoadString(src string) (*Manifest, []error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename("manifest.cue"))
	if err := value.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err, cue.Value{})
	}
	m, errs := compile(ctx, value)
	if m != nil {
		m.FileCount = 1
	}
	return m, errs
}

// compile unifies value with the schema and decodes the deployment.
func compile(ctx *cue.Context, value cue.Value) (*Manifest, []error) {
	if !value.LookupPath(cue.ParsePath("deployment")).Exists() {
		return nil, []error{&LoadError{Code: ErrCodeMissing, Message: "no deployment struct found", Pos: value.Pos()}}
	}

	schema := ctx.CompileString(schemaSource, cue.Filename(schemaFilename))
	if err := schema.Err(); err != nil {
		return nil, fromCUE(ErrCodeGeneric, err, cue.Value{})
	}
	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(ErrCodeSchema, err, value)
	}

	dv := unified.LookupPath(cue.ParsePath("deployment"))
	var raw rawDeployment
	if err := dv.Decode(&raw); err != nil {
		return nil, fromCUE(ErrCodeSchema, err, value)
	}

	m := &Manifest{
		DefaultPolicy: raw.DefaultPolicy,
		CommitTTL:     raw.CommitTTL,
		MaxMessageAge: raw.MaxMessageAge,
		Fees:          raw.Fees,
	}
	var errs []error
	m.Authority, errs = parseAddress(dv.LookupPath(cue.ParsePath("authority")), raw.Authority, errs)

	seen := map[string]bool{raw.DefaultPolicy: true}
	wl := dv.LookupPath(cue.ParsePath("whitelist"))
	for i, name := range raw.Whitelist {
		if seen[name] {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicate,
				Message: fmt.Sprintf("policy %q is listed more than once", name),
				Pos:     wl.LookupPath(cue.MakePath(cue.Index(i))).Pos(),
			})
			continue
		}
		seen[name] = true
		m.Whitelist = append(m.Whitelist, name)
	}

	fl := dv.LookupPath(cue.ParsePath("funding"))
	for i, f := range raw.Funding {
		var acct ir.Address
		acct, errs = parseAddress(fl.LookupPath(cue.MakePath(cue.Index(i), cue.Str("account"))), f.Account, errs)
		m.Funding = append(m.Funding, Funding{Account: acct, Amount: f.Amount})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return m, nil
}

func parseAddress(v cue.Value, s string, errs []error) (ir.Address, []error) {
	a, err := ir.ParseAddress(s)
	if err == nil && a.IsZero() {
		err = fmt.Errorf("zero address is not allowed")
	}
	if err != nil {
		errs = append(errs, &LoadError{Code: ErrCodeSchema, Message: err.Error(), Pos: v.Pos()})
	}
	return a, errs
}

// FindCUEFiles walks dir and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
