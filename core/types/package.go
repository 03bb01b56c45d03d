package types

import "fmt"

// BlueprintSchema lists what a blueprint exports. Functions are called without
// a component; methods are called on an instantiated component.
type BlueprintSchema struct {
	Name      string   `json:"name"`
	Functions []string `json:"functions,omitempty"`
	Methods   []string `json:"methods,omitempty"`
	// Reentrant blueprints may be called back while an ancestor frame holds a
	// write lock on the same component.
	Reentrant bool `json:"reentrant,omitempty"`
	// Rules guard individual functions and methods. Exports without a rule
	// are open to every caller.
	Rules []MethodRule `json:"rules,omitempty" rlp:"optional"`
}

// MethodRule is the access rule a caller's proofs must satisfy to invoke
// the named function or method.
type MethodRule struct {
	Name string     `json:"name"`
	Rule AccessRule `json:"rule"`
}

// Rule returns the access rule guarding name.
func (b BlueprintSchema) Rule(name string) AccessRule {
	for _, r := range b.Rules {
		if r.Name == name {
			return r.Rule
		}
	}
	return AccessRule{Kind: RuleAllowAll}
}

func (b BlueprintSchema) validateRules() error {
	seen := make(map[string]struct{}, len(b.Rules))
	for _, r := range b.Rules {
		if !b.HasFunction(r.Name) && !b.HasMethod(r.Name) {
			return fmt.Errorf("blueprint %q: rule for undeclared export %q", b.Name, r.Name)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("blueprint %q: duplicate rule for %q", b.Name, r.Name)
		}
		seen[r.Name] = struct{}{}
		if err := r.Rule.Validate(); err != nil {
			return fmt.Errorf("blueprint %q: rule for %q: %w", b.Name, r.Name, err)
		}
	}
	return nil
}

func (b BlueprintSchema) HasFunction(name string) bool { return contains(b.Functions, name) }

func (b BlueprintSchema) HasMethod(name string) bool { return contains(b.Methods, name) }

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// PackageSpec is the payload of a PublishPackage instruction.
type PackageSpec struct {
	Runtime    string            `json:"runtime"`
	Code       []byte            `json:"code"`
	Blueprints []BlueprintSchema `json:"blueprints"`
}

func (p PackageSpec) Validate() error {
	if p.Runtime == "" {
		return fmt.Errorf("package runtime required")
	}
	if len(p.Code) == 0 {
		return fmt.Errorf("package code required")
	}
	if len(p.Blueprints) == 0 {
		return fmt.Errorf("package must declare at least one blueprint")
	}
	seen := make(map[string]struct{}, len(p.Blueprints))
	for _, bp := range p.Blueprints {
		if bp.Name == "" {
			return fmt.Errorf("blueprint name required")
		}
		if _, dup := seen[bp.Name]; dup {
			return fmt.Errorf("duplicate blueprint %q", bp.Name)
		}
		seen[bp.Name] = struct{}{}
		if err := bp.validateRules(); err != nil {
			return err
		}
	}
	return nil
}

// Blueprint returns the named blueprint schema.
func (p PackageSpec) Blueprint(name string) (BlueprintSchema, bool) {
	for _, bp := range p.Blueprints {
		if bp.Name == name {
			return bp, true
		}
	}
	return BlueprintSchema{}, false
}
