package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed default.rego
var defaultPolicy string

// Input describes a tracking candidate for policy evaluation.
type Input struct {
	Scheme          string `json:"scheme"`
	Hostname        string `json:"hostname"`
	TrackingEnabled bool   `json:"tracking_enabled"`
}

// Engine decides whether a candidate page may be tracked. The default
// policy admits http/https hosts while tracking is enabled; operators
// can layer deny rules by dropping .rego files into the policy
// directory.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	query   rego.PreparedEvalQuery
	modules map[string]*ast.Module
}

// NewEngine creates a policy engine from the embedded default policy
// plus any .rego files found in policyDir (optional).
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "policy").Logger(),
		modules:   make(map[string]*ast.Module),
	}

	if err := e.loadPolicies(); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	if err := e.prepareQuery(); err != nil {
		return nil, fmt.Errorf("failed to prepare track query: %w", err)
	}

	e.logger.Info().Str("policy_dir", policyDir).Int("modules", len(e.modules)).Msg("Policy engine initialized")

	return e, nil
}

// loadPolicies parses the embedded default policy and all .rego files
// from the policy directory.
func (e *Engine) loadPolicies() error {
	module, err := ast.ParseModule("default.rego", defaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to parse embedded policy: %w", err)
	}
	e.modules["default.rego"] = module

	if e.policyDir == "" {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return fmt.Errorf("failed to glob policy files: %w", err)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}

		e.modules[file] = module
		e.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return nil
}

func (e *Engine) prepareQuery() error {
	ctx := context.Background()

	options := append([]func(*rego.Rego){
		rego.Query("data.sitepulse.track.allow"),
	}, e.withModules()...)

	query, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return err
	}

	e.query = query
	return nil
}

func (e *Engine) withModules() []func(*rego.Rego) {
	options := make([]func(*rego.Rego), 0, len(e.modules))
	for _, module := range e.modules {
		options = append(options, rego.ParsedModule(module))
	}
	return options
}

// Trackable evaluates the track policy for the given candidate.
// Evaluation errors deny tracking; a broken policy must never cause
// counting of pages the operator meant to exclude.
func (e *Engine) Trackable(ctx context.Context, input Input) bool {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		e.logger.Error().Err(err).Str("hostname", input.Hostname).Msg("Policy evaluation failed")
		return false
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		e.logger.Error().Str("hostname", input.Hostname).Msg("Policy returned non-boolean decision")
		return false
	}

	return allowed
}
