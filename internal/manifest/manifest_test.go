package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/engine"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/policy"
	"github.com/roach88/passvault/internal/store"
	"github.com/roach88/passvault/internal/testutil"
)

var (
	authorityHex = strings.Repeat("a1", 32)
	payerHex     = strings.Repeat("b2", 32)
)

const validSource = `
deployment: {
	authority: "` + "AUTH" + `"
	whitelist: ["transfer_limit"]
	commit_ttl: 120
	fees: execute: 5
	funding: [{account: "PAYER", amount: 1000}]
}
`

func validManifest() string {
	s := strings.ReplaceAll(validSource, "AUTH", authorityHex)
	return strings.ReplaceAll(s, "PAYER", payerHex)
}

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestLoadString_Defaults(t *testing.T) {
	m, errs := LoadString(validManifest())
	require.Empty(t, errs)

	assert.Equal(t, ir.MustParseAddress(authorityHex), m.Authority)
	assert.Equal(t, "default", m.DefaultPolicy)
	assert.Equal(t, []string{"transfer_limit"}, m.Whitelist)
	assert.Equal(t, int64(120), m.CommitTTL)
	assert.Equal(t, int64(300), m.MaxMessageAge)
	assert.Equal(t, Fees{Execute: 5}, m.Fees)
	assert.Equal(t, []Funding{{Account: ir.MustParseAddress(payerHex), Amount: 1000}}, m.Funding)
}

func TestLoad_Directory(t *testing.T) {
	dir := writeDir(t, map[string]string{
		"deploy.cue": "package genesis\n" + validManifest(),
		"fees.cue":   "package genesis\ndeployment: fees: create_wallet: 7\n",
	})

	m, errs := Load(dir)
	require.Empty(t, errs)
	assert.Equal(t, 2, m.FileCount)
	assert.Equal(t, Fees{CreateWallet: 7, Execute: 5}, m.Fees)
}

func TestLoad_DirectoryErrors(t *testing.T) {
	_, errs := Load(filepath.Join(t.TempDir(), "nope"))
	requireLoadCode(t, errs, ErrCodeNotFound)

	_, errs = Load(t.TempDir())
	requireLoadCode(t, errs, ErrCodeNoFiles)

	_, errs = Load(writeDir(t, map[string]string{"a.cue": "deployment: {"}))
	require.NotEmpty(t, errs)
}

func TestLoadString_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"missing deployment", `other: 1`, ErrCodeMissing},
		{"missing authority", `deployment: {}`, ErrCodeSchema},
		{"bad authority", `deployment: authority: "xyz"`, ErrCodeSchema},
		{"zero authority", `deployment: authority: "` + strings.Repeat("0", 64) + `"`, ErrCodeSchema},
		{"unknown field", `deployment: {authority: "` + authorityHex + `", colour: "red"}`, ErrCodeSchema},
		{"negative ttl", `deployment: {authority: "` + authorityHex + `", commit_ttl: -1}`, ErrCodeSchema},
		{"zero funding", `deployment: {authority: "` + authorityHex + `", funding: [{account: "` + payerHex + `", amount: 0}]}`, ErrCodeSchema},
		{"duplicate whitelist", `deployment: {authority: "` + authorityHex + `", whitelist: ["default"]}`, ErrCodeDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, errs := LoadString(tt.src)
			assert.Nil(t, m)
			requireLoadCode(t, errs, tt.code)
		})
	}
}

func TestLoadString_ErrorsCarryPositions(t *testing.T) {
	_, errs := LoadString("deployment: {\n\tauthority: \"" + authorityHex + "\"\n\tcommit_ttl: \"soon\"\n}\n")
	require.NotEmpty(t, errs)

	var le *LoadError
	require.True(t, errors.As(errs[0], &le))
	assert.True(t, le.Pos.IsValid())
	assert.Contains(t, le.Error(), ".cue:")
}

func TestLoadString_DisjunctionErrorsPointAtField(t *testing.T) {
	for name, field := range map[string]string{
		"bound":  "commit_ttl: -1",
		"kind":   "max_message_age: \"soon\"",
		"nested": "fees: execute: -3",
	} {
		t.Run(name, func(t *testing.T) {
			src := "deployment: {\n\tauthority: \"" + authorityHex + "\"\n\t" + field + "\n}\n"
			_, errs := LoadString(src)
			requireLoadCode(t, errs, ErrCodeSchema)

			var le *LoadError
			require.True(t, errors.As(errs[0], &le))
			require.True(t, le.Pos.IsValid(), le.Error())
			assert.Equal(t, "manifest.cue", le.Pos.Filename())
			assert.Equal(t, 3, le.Pos.Line())
			assert.Contains(t, le.Error(), "manifest.cue:3:")
		})
	}
}

func TestManifest_Apply(t *testing.T) {
	m, errs := LoadString(validManifest())
	require.Empty(t, errs)

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	eng, err := engine.New(s, engine.WithClock(testutil.NewDeterministicClock()))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, eng))

	cfg, err := eng.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Authority, cfg.Authority)
	assert.Equal(t, address.Program(policy.DefaultName), cfg.DefaultPolicy)
	assert.Equal(t, int64(120), cfg.CommitTTL)
	assert.Equal(t, uint64(5), cfg.ExecuteFee)

	list, err := eng.Whitelist(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	bal, err := eng.Balance(ctx, ir.MustParseAddress(payerHex))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), bal)

	err = m.Apply(ctx, eng)
	assert.Equal(t, engine.CodeAlreadyInitialized, engine.CodeOf(err))
}

func TestManifest_UnknownPolicy(t *testing.T) {
	m, errs := LoadString(`deployment: {authority: "` + authorityHex + `", default_policy: "vault9"}`)
	require.Empty(t, errs)

	_, err := m.InitializeRequest(policy.Builtins())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeUnknownPolicy, le.Code)
}

func requireLoadCode(t *testing.T, errs []error, code string) {
	t.Helper()
	require.NotEmpty(t, errs)
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) && le.Code == code {
			return
		}
	}
	t.Fatalf("no %s error in %v", code, errs)
}
