/*
Package factory converts YAML or JSON program catalogs into engine types.

PURPOSE:
  A program's indicator catalog, remuneration scale, conditional field table
  and classification data change far more often than the engine. The
  factory lets a program officer edit them as a document, and produces the
  program.Catalog the engine consumes. The same conversion stores single
  indicators as JSON in the SQLite store.

DOCUMENT SCHEMA (YAML shown, JSON uses the same keys):
  name: Facility RBF
  program:
    canonical_order: ["1.1", "2.1"]
    default_population: {health_post: 5000, "*": 10000}
    satisfaction_indicator: "3.2"
    satisfaction_scale: 5
    role_mapping: {in-charge: individual_lead, chv: team_pooled}
    default_role: performance_proportional
    team_based_types: [community_unit]
    worker_rules:
      health_post: {required_roles: [individual_lead], min_workers: 1, max_workers: 6}
  indicators:
    - code: "2.1"
      name: Family planning new acceptors
      target_type: PERCENTAGE_RANGE
      formula: (A/B)*100
      numerator_field: fp_new_acceptors
      denominator_field: women_reproductive_age
      applicable_types: [health_post, phc]
      target: 3-5                      # or 80, "80%", {min: 3, max: 5}, true
      remuneration: {health_post: 500, phc: 2000}
      facility_overrides: {hp-007: {min: 1, max: 2}}
  conditional_fields:
    - {controller: has_delivery_services, dependent: facility_deliveries, kind: count}

VALIDATION:
  - target types must be known; PERCENTAGE_RANGE formulas must compile
  - indicator codes must be unique
  - roles must be known
  - the conditional table must pass conditional.New

USAGE:
  catalog, err := factory.LoadCatalog("program.yaml")
  out, err := factory.ToYAML(catalog)

SEE ALSO:
  - program/program.go: the built-in catalog
  - store/sqlite: persists indicators via IndicatorToJSON / ParseIndicator
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/incentive-engine/conditional"
	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/program"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

type CatalogDoc struct {
	Name        string             `json:"name" yaml:"name"`
	Program     ProgramDoc         `json:"program" yaml:"program"`
	Indicators  []IndicatorDoc     `json:"indicators" yaml:"indicators"`
	Conditional []conditional.Rule `json:"conditional_fields,omitempty" yaml:"conditional_fields,omitempty"`
}

type ProgramDoc struct {
	CanonicalOrder        []string                 `json:"canonical_order,omitempty" yaml:"canonical_order,omitempty"`
	DefaultPopulation     map[string]float64       `json:"default_population,omitempty" yaml:"default_population,omitempty"`
	SatisfactionIndicator string                   `json:"satisfaction_indicator,omitempty" yaml:"satisfaction_indicator,omitempty"`
	SatisfactionScale     float64                  `json:"satisfaction_scale,omitempty" yaml:"satisfaction_scale,omitempty"`
	DefaultTarget         float64                  `json:"default_target,omitempty" yaml:"default_target,omitempty"`
	RoleMapping           map[string]string        `json:"role_mapping,omitempty" yaml:"role_mapping,omitempty"`
	DefaultRole           string                   `json:"default_role,omitempty" yaml:"default_role,omitempty"`
	TeamBasedTypes        []string                 `json:"team_based_types,omitempty" yaml:"team_based_types,omitempty"`
	WorkerRules           map[string]WorkerRuleDoc `json:"worker_rules,omitempty" yaml:"worker_rules,omitempty"`
}

type WorkerRuleDoc struct {
	RequiredRoles []string `json:"required_roles,omitempty" yaml:"required_roles,omitempty"`
	MinWorkers    int      `json:"min_workers,omitempty" yaml:"min_workers,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
}

type IndicatorDoc struct {
	Code              string                  `json:"code" yaml:"code"`
	Name              string                  `json:"name" yaml:"name"`
	TargetType        string                  `json:"target_type" yaml:"target_type"`
	Formula           string                  `json:"formula,omitempty" yaml:"formula,omitempty"`
	NumeratorField    string                  `json:"numerator_field" yaml:"numerator_field"`
	DenominatorField  string                  `json:"denominator_field,omitempty" yaml:"denominator_field,omitempty"`
	ApplicableTypes   []string                `json:"applicable_types" yaml:"applicable_types"`
	Target            RawTarget               `json:"target,omitempty" yaml:"target,omitempty"`
	Range             *engine.Range           `json:"range,omitempty" yaml:"range,omitempty"`
	PercentageCap     *float64                `json:"percentage_cap,omitempty" yaml:"percentage_cap,omitempty"`
	Remuneration      map[string]float64      `json:"remuneration" yaml:"remuneration"`
	FacilityOverrides map[string]engine.Range `json:"facility_overrides,omitempty" yaml:"facility_overrides,omitempty"`
}

// RawTarget keeps a stored target in its textual encoding whatever its
// document type: 80, "80%", "3-5", {min: 3, max: 5} or true.
type RawTarget string

func (t *RawTarget) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = RawTarget(s)
	default:
		*t = RawTarget(data)
	}
	return nil
}

func (t RawTarget) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(t))
	if strings.HasPrefix(s, "{") && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func (t *RawTarget) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = RawTarget(node.Value)
	case yaml.MappingNode:
		var r map[string]float64
		if err := node.Decode(&r); err != nil {
			return err
		}
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		*t = RawTarget(b)
	default:
		return fmt.Errorf("line %d: target must be a scalar or a {min, max} mapping", node.Line)
	}
	return nil
}

func (t RawTarget) MarshalYAML() (any, error) {
	s := strings.TrimSpace(string(t))
	if strings.HasPrefix(s, "{") {
		var r map[string]float64
		if err := json.Unmarshal([]byte(s), &r); err == nil {
			return r, nil
		}
	}
	return s, nil
}

// =============================================================================
// LOADING
// =============================================================================

// LoadCatalog reads a catalog file; .json files are parsed as JSON, anything
// else as YAML.
func LoadCatalog(path string) (program.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return program.Catalog{}, eris.Wrapf(err, "read catalog %s", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseCatalogJSON(data)
	}
	return ParseCatalogYAML(data)
}

func ParseCatalogYAML(data []byte) (program.Catalog, error) {
	var doc CatalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return program.Catalog{}, eris.Wrap(err, "parse catalog YAML")
	}
	return FromDoc(doc)
}

func ParseCatalogJSON(data []byte) (program.Catalog, error) {
	var doc CatalogDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return program.Catalog{}, eris.Wrap(err, "parse catalog JSON")
	}
	return FromDoc(doc)
}

// FromDoc validates a document and converts it to a catalog.
func FromDoc(doc CatalogDoc) (program.Catalog, error) {
	cfg, err := programFromDoc(doc.Program)
	if err != nil {
		return program.Catalog{}, err
	}

	seen := make(map[string]bool, len(doc.Indicators))
	indicators := make([]engine.Indicator, 0, len(doc.Indicators))
	for _, d := range doc.Indicators {
		if seen[d.Code] {
			return program.Catalog{}, eris.Errorf("duplicate indicator code %q", d.Code)
		}
		seen[d.Code] = true
		ind, err := IndicatorFromDoc(d)
		if err != nil {
			return program.Catalog{}, err
		}
		indicators = append(indicators, ind)
	}

	if _, err := conditional.New(doc.Conditional); err != nil {
		return program.Catalog{}, eris.Wrap(err, "conditional_fields")
	}

	return program.Catalog{
		Name:       doc.Name,
		Config:     cfg,
		Indicators: indicators,
		Rules:      doc.Conditional,
	}, nil
}

func programFromDoc(d ProgramDoc) (engine.ProgramConfig, error) {
	cfg := engine.ProgramConfig{
		SatisfactionIndicator: engine.IndicatorCode(d.SatisfactionIndicator),
		SatisfactionScale:     d.SatisfactionScale,
		DefaultTarget:         d.DefaultTarget,
		DefaultPopulation:     make(map[engine.FacilityType]float64, len(d.DefaultPopulation)),
		RoleMapping:           make(map[string]engine.RoleType, len(d.RoleMapping)),
		WorkerRules:           make(map[engine.FacilityType]engine.WorkerRule, len(d.WorkerRules)),
	}
	for _, code := range d.CanonicalOrder {
		cfg.CanonicalOrder = append(cfg.CanonicalOrder, engine.IndicatorCode(code))
	}
	for ft, pop := range d.DefaultPopulation {
		cfg.DefaultPopulation[engine.FacilityType(ft)] = pop
	}
	for designation, role := range d.RoleMapping {
		r := engine.RoleType(role)
		if !r.Valid() {
			return cfg, eris.Errorf("role_mapping[%s]: unknown role %q", designation, role)
		}
		cfg.RoleMapping[strings.ToLower(strings.TrimSpace(designation))] = r
	}
	if d.DefaultRole != "" {
		cfg.DefaultRole = engine.RoleType(d.DefaultRole)
		if !cfg.DefaultRole.Valid() {
			return cfg, eris.Errorf("default_role: unknown role %q", d.DefaultRole)
		}
	}
	for _, ft := range d.TeamBasedTypes {
		cfg.TeamBasedTypes = append(cfg.TeamBasedTypes, engine.FacilityType(ft))
	}
	for ft, wr := range d.WorkerRules {
		rule := engine.WorkerRule{MinWorkers: wr.MinWorkers, MaxWorkers: wr.MaxWorkers}
		for _, role := range wr.RequiredRoles {
			r := engine.RoleType(role)
			if !r.Valid() {
				return cfg, eris.Errorf("worker_rules[%s]: unknown role %q", ft, role)
			}
			rule.RequiredRoles = append(rule.RequiredRoles, r)
		}
		cfg.WorkerRules[engine.FacilityType(ft)] = rule
	}
	return cfg, nil
}

// IndicatorFromDoc validates and converts one indicator.
func IndicatorFromDoc(d IndicatorDoc) (engine.Indicator, error) {
	if d.Code == "" {
		return engine.Indicator{}, eris.New("indicator code is required")
	}
	tt := engine.TargetType(strings.ToUpper(d.TargetType))
	if !tt.Valid() {
		return engine.Indicator{}, eris.Errorf("indicator %s: unknown target type %q", d.Code, d.TargetType)
	}
	if tt == engine.TargetPercentageRange {
		if _, err := engine.CompileFormula(d.Formula); err != nil {
			return engine.Indicator{}, eris.Wrapf(err, "indicator %s", d.Code)
		}
	}

	ind := engine.Indicator{
		Code:             engine.IndicatorCode(d.Code),
		Name:             d.Name,
		TargetType:       tt,
		Formula:          d.Formula,
		NumeratorField:   engine.FieldKey(d.NumeratorField),
		DenominatorField: engine.FieldKey(d.DenominatorField),
		TargetValue:      string(d.Target),
		Range:            d.Range,
		PercentageCap:    d.PercentageCap,
		Remuneration:     make(map[engine.FacilityType]decimal.Decimal, len(d.Remuneration)),
	}
	for _, ft := range d.ApplicableTypes {
		ind.ApplicableTypes = append(ind.ApplicableTypes, engine.FacilityType(ft))
	}
	for ft, amount := range d.Remuneration {
		if amount < 0 {
			return engine.Indicator{}, eris.Errorf("indicator %s: negative remuneration for %s", d.Code, ft)
		}
		ind.Remuneration[engine.FacilityType(ft)] = engine.NewMoney(amount)
	}
	if len(d.FacilityOverrides) > 0 {
		ind.FacilityOverrides = make(map[engine.FacilityID]engine.Range, len(d.FacilityOverrides))
		for id, r := range d.FacilityOverrides {
			ind.FacilityOverrides[engine.FacilityID(id)] = r.Normalize()
		}
	}
	return ind, nil
}

// =============================================================================
// EXPORT
// =============================================================================

func ToDoc(c program.Catalog) CatalogDoc {
	doc := CatalogDoc{
		Name:        c.Name,
		Program:     programToDoc(c.Config),
		Conditional: c.Rules,
	}
	for _, ind := range c.Indicators {
		doc.Indicators = append(doc.Indicators, IndicatorToDoc(ind))
	}
	return doc
}

func programToDoc(cfg engine.ProgramConfig) ProgramDoc {
	d := ProgramDoc{
		SatisfactionIndicator: string(cfg.SatisfactionIndicator),
		SatisfactionScale:     cfg.SatisfactionScale,
		DefaultTarget:         cfg.DefaultTarget,
		DefaultRole:           string(cfg.DefaultRole),
		DefaultPopulation:     make(map[string]float64, len(cfg.DefaultPopulation)),
		RoleMapping:           make(map[string]string, len(cfg.RoleMapping)),
	}
	for _, code := range cfg.CanonicalOrder {
		d.CanonicalOrder = append(d.CanonicalOrder, string(code))
	}
	for ft, pop := range cfg.DefaultPopulation {
		d.DefaultPopulation[string(ft)] = pop
	}
	for designation, role := range cfg.RoleMapping {
		d.RoleMapping[designation] = string(role)
	}
	for _, ft := range cfg.TeamBasedTypes {
		d.TeamBasedTypes = append(d.TeamBasedTypes, string(ft))
	}
	if len(cfg.WorkerRules) > 0 {
		d.WorkerRules = make(map[string]WorkerRuleDoc, len(cfg.WorkerRules))
		for ft, rule := range cfg.WorkerRules {
			wr := WorkerRuleDoc{MinWorkers: rule.MinWorkers, MaxWorkers: rule.MaxWorkers}
			for _, r := range rule.RequiredRoles {
				wr.RequiredRoles = append(wr.RequiredRoles, string(r))
			}
			d.WorkerRules[string(ft)] = wr
		}
	}
	return d
}

func IndicatorToDoc(ind engine.Indicator) IndicatorDoc {
	d := IndicatorDoc{
		Code:             string(ind.Code),
		Name:             ind.Name,
		TargetType:       string(ind.TargetType),
		Formula:          ind.Formula,
		NumeratorField:   string(ind.NumeratorField),
		DenominatorField: string(ind.DenominatorField),
		Target:           RawTarget(ind.TargetValue),
		Range:            ind.Range,
		PercentageCap:    ind.PercentageCap,
		Remuneration:     make(map[string]float64, len(ind.Remuneration)),
	}
	types := make([]string, 0, len(ind.ApplicableTypes))
	for _, ft := range ind.ApplicableTypes {
		types = append(types, string(ft))
	}
	sort.Strings(types)
	d.ApplicableTypes = types
	for ft, amount := range ind.Remuneration {
		d.Remuneration[string(ft)] = amount.InexactFloat64()
	}
	if len(ind.FacilityOverrides) > 0 {
		d.FacilityOverrides = make(map[string]engine.Range, len(ind.FacilityOverrides))
		for id, r := range ind.FacilityOverrides {
			d.FacilityOverrides[string(id)] = r
		}
	}
	return d
}

// ToYAML renders a catalog as a YAML document LoadCatalog accepts.
func ToYAML(c program.Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ToDoc(c)); err != nil {
		return nil, eris.Wrap(err, "encode catalog YAML")
	}
	if err := enc.Close(); err != nil {
		return nil, eris.Wrap(err, "encode catalog YAML")
	}
	return buf.Bytes(), nil
}

// =============================================================================
// SINGLE INDICATOR JSON (store/sqlite config_json column)
// =============================================================================

func IndicatorToJSON(ind engine.Indicator) (string, error) {
	b, err := json.Marshal(IndicatorToDoc(ind))
	if err != nil {
		return "", eris.Wrapf(err, "marshal indicator %s", ind.Code)
	}
	return string(b), nil
}

func ParseIndicator(configJSON string) (engine.Indicator, error) {
	var d IndicatorDoc
	if err := json.Unmarshal([]byte(configJSON), &d); err != nil {
		return engine.Indicator{}, eris.Wrap(err, "parse indicator JSON")
	}
	return IndicatorFromDoc(d)
}
