package dsl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/weft/pkg/api"
)

// WorkflowYAML mirrors the body of a "workflow:" document.
type WorkflowYAML struct {
	Name       string          `yaml:"name"`
	Version    string          `yaml:"version,omitempty"`
	Tasks      []TaskYAML      `yaml:"tasks"`
	Conditions []ConditionYAML `yaml:"conditions"`
	Flows      []FlowYAML      `yaml:"flows,omitempty"`
	Regions    []RegionYAML    `yaml:"regions,omitempty"`
}

// TaskYAML mirrors one entry of the tasks list.
type TaskYAML struct {
	Name            string          `yaml:"name"`
	Kind            string          `yaml:"kind,omitempty"`
	Split           string          `yaml:"split,omitempty"`
	Join            string          `yaml:"join,omitempty"`
	Cardinality     int             `yaml:"cardinality,omitempty"`
	CardinalityFunc string          `yaml:"cardinality_func,omitempty"`
	Completion      *CompletionYAML `yaml:"completion,omitempty"`
	Failure         string          `yaml:"failure,omitempty"`
	AutoInitialize  bool            `yaml:"auto_initialize,omitempty"`
	SubWorkflow     string          `yaml:"sub_workflow,omitempty"`
	AllowPartial    bool            `yaml:"allow_partial,omitempty"`
}

// CompletionYAML mirrors a task's completion policy.
type CompletionYAML struct {
	Mode   string `yaml:"mode"`
	Quorum int    `yaml:"quorum,omitempty"`
}

// ConditionYAML mirrors one entry of the conditions list.
type ConditionYAML struct {
	Name     string `yaml:"name"`
	Initial  bool   `yaml:"initial,omitempty"`
	Terminal bool   `yaml:"terminal,omitempty"`
}

// FlowYAML mirrors one entry of the flows list. When names a registered
// predicate; Default marks the fallback flow of an XOR split.
type FlowYAML struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	When    string `yaml:"when,omitempty"`
	Default bool   `yaml:"default,omitempty"`
}

// RegionYAML mirrors one entry of the regions list.
type RegionYAML struct {
	Owner      string   `yaml:"owner"`
	Tasks      []string `yaml:"tasks,omitempty"`
	Conditions []string `yaml:"conditions,omitempty"`
}

// document is the top-level YAML shape.
type document struct {
	Workflow WorkflowYAML `yaml:"workflow"`
}

// Parser turns YAML workflow documents into WorkflowDefinitions, resolving
// function references against a Registry. The parser checks only what the
// document itself can get wrong (unknown enum spellings, unresolved
// function names); graph structure is validated by the engine on
// RegisterWorkflow, which reports every violation at once.
type Parser struct {
	reg *Registry
}

// NewParser creates a parser bound to the given registry. A nil registry
// behaves like an empty one, so documents referencing any function fail
// to parse.
func NewParser(reg *Registry) *Parser {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Parser{reg: reg}
}

// ParseFile parses a single-workflow YAML file.
func (p *Parser) ParseFile(filename string) (api.WorkflowDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return api.WorkflowDefinition{}, fmt.Errorf("read workflow file: %w", err)
	}
	return p.Parse(data)
}

// Parse parses a single workflow document.
func (p *Parser) Parse(data []byte) (api.WorkflowDefinition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return api.WorkflowDefinition{}, fmt.Errorf("parse workflow yaml: %w", err)
	}
	return p.convert(doc.Workflow)
}

// ParseAll parses a multi-document YAML stream, one workflow per document.
// Useful for files that define a composite workflow next to the
// sub-workflows it spawns; register the results in the order returned.
func (p *Parser) ParseAll(data []byte) ([]api.WorkflowDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var defs []api.WorkflowDefinition
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return defs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse workflow yaml: %w", err)
		}
		def, err := p.convert(doc.Workflow)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
}

func (p *Parser) convert(w WorkflowYAML) (api.WorkflowDefinition, error) {
	def := api.WorkflowDefinition{
		Name:    w.Name,
		Version: w.Version,
	}
	if def.Name == "" {
		return def, errors.New("workflow has no name")
	}

	for _, t := range w.Tasks {
		td, err := p.convertTask(t)
		if err != nil {
			return def, fmt.Errorf("workflow %q: %w", def.Name, err)
		}
		def.Tasks = append(def.Tasks, td)
	}

	for _, c := range w.Conditions {
		def.Conditions = append(def.Conditions, api.ConditionDefinition{
			Name:     c.Name,
			Initial:  c.Initial,
			Terminal: c.Terminal,
		})
	}

	for _, f := range w.Flows {
		fd := api.FlowDefinition{
			Source:  f.From,
			Target:  f.To,
			Default: f.Default,
		}
		if f.When != "" {
			pred, ok := p.reg.predicate(f.When)
			if !ok {
				return def, fmt.Errorf("workflow %q: flow %s->%s: unknown predicate %q", def.Name, f.From, f.To, f.When)
			}
			fd.Predicate = pred
		}
		def.Flows = append(def.Flows, fd)
	}

	for _, r := range w.Regions {
		def.Regions = append(def.Regions, api.CancellationRegionDefinition{
			Owner:      r.Owner,
			Tasks:      r.Tasks,
			Conditions: r.Conditions,
		})
	}

	return def, nil
}

func (p *Parser) convertTask(t TaskYAML) (api.TaskDefinition, error) {
	td := api.TaskDefinition{
		Name:           t.Name,
		Cardinality:    t.Cardinality,
		AutoInitialize: t.AutoInitialize,
		SubWorkflow:    t.SubWorkflow,
		AllowPartial:   t.AllowPartial,
	}

	var err error
	if td.Kind, err = parseKind(t.Kind); err != nil {
		return td, fmt.Errorf("task %q: %w", t.Name, err)
	}
	if td.Split, err = parseSplit(t.Split); err != nil {
		return td, fmt.Errorf("task %q: %w", t.Name, err)
	}
	if td.Join, err = parseJoin(t.Join); err != nil {
		return td, fmt.Errorf("task %q: %w", t.Name, err)
	}
	if td.Failure, err = parseFailure(t.Failure); err != nil {
		return td, fmt.Errorf("task %q: %w", t.Name, err)
	}

	if t.Completion != nil {
		mode, err := parseCompletionMode(t.Completion.Mode)
		if err != nil {
			return td, fmt.Errorf("task %q: %w", t.Name, err)
		}
		td.Completion = api.CompletionPolicy{Mode: mode, Quorum: t.Completion.Quorum}
	}

	if t.CardinalityFunc != "" {
		fn, ok := p.reg.cardinality(t.CardinalityFunc)
		if !ok {
			return td, fmt.Errorf("task %q: unknown cardinality function %q", t.Name, t.CardinalityFunc)
		}
		td.CardinalityFn = fn
	}

	return td, nil
}

func parseKind(s string) (api.TaskKind, error) {
	switch normalize(s) {
	case "", "atomic":
		return api.KindAtomic, nil
	case "composite":
		return api.KindComposite, nil
	case "dynamic_composite":
		return api.KindDynamicComposite, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

func parseSplit(s string) (api.SplitType, error) {
	switch normalize(s) {
	case "", "none":
		return api.SplitNone, nil
	case "and":
		return api.SplitAnd, nil
	case "or":
		return api.SplitOr, nil
	case "xor":
		return api.SplitXor, nil
	default:
		return "", fmt.Errorf("unknown split %q", s)
	}
}

func parseJoin(s string) (api.JoinType, error) {
	switch normalize(s) {
	case "", "none":
		return api.JoinNone, nil
	case "and":
		return api.JoinAnd, nil
	case "or":
		return api.JoinOr, nil
	case "xor":
		return api.JoinXor, nil
	default:
		return "", fmt.Errorf("unknown join %q", s)
	}
}

func parseCompletionMode(s string) (api.CompletionMode, error) {
	switch normalize(s) {
	case "", "all":
		return api.CompleteAll, nil
	case "any":
		return api.CompleteAny, nil
	case "quorum":
		return api.CompleteQuorum, nil
	default:
		return "", fmt.Errorf("unknown completion mode %q", s)
	}
}

func parseFailure(s string) (api.FailurePolicy, error) {
	switch normalize(s) {
	case "":
		return "", nil
	case "fail_fast":
		return api.FailFast, nil
	case "tolerant":
		return api.FailTolerant, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// normalize folds case and hyphen/underscore so documents can spell
// enums either way.
func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "-", "_")
}
