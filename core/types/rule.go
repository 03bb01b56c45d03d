package types

import (
	"fmt"
	"strings"
)

// RuleKind selects how an AccessRule is evaluated.
type RuleKind uint8

const (
	RuleDenyAll RuleKind = iota
	RuleAllowAll
	RuleRequire
	RuleRequireNonFungible
	RuleAllOf
	RuleAnyOf
)

var ruleNames = map[RuleKind]string{
	RuleDenyAll:            "deny_all",
	RuleAllowAll:           "allow_all",
	RuleRequire:            "require",
	RuleRequireNonFungible: "require_non_fungible",
	RuleAllOf:              "all_of",
	RuleAnyOf:              "any_of",
}

func (k RuleKind) String() string {
	if name, ok := ruleNames[k]; ok {
		return name
	}
	return fmt.Sprintf("rule(%d)", uint8(k))
}

func (k RuleKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RuleKind) UnmarshalText(text []byte) error {
	for kind, name := range ruleNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("rule: unknown kind %q", text)
}

// MaxRuleDepth bounds AllOf/AnyOf nesting.
const MaxRuleDepth = 8

// AccessRule is a boolean expression over the proofs in an auth zone. The zero
// value denies everything.
type AccessRule struct {
	Kind     RuleKind      `json:"kind"`
	Resource EntityID      `json:"resource,omitempty"`
	ID       NonFungibleID `json:"id,omitempty"`
	Rules    []AccessRule  `json:"rules,omitempty"`
}

// Validate rejects rules that are too deep or malformed.
func (r AccessRule) Validate() error {
	return r.validate(0)
}

func (r AccessRule) validate(depth int) error {
	if depth > MaxRuleDepth {
		return fmt.Errorf("access rule nested deeper than %d", MaxRuleDepth)
	}
	switch r.Kind {
	case RuleDenyAll, RuleAllowAll:
		return nil
	case RuleRequire:
		if r.Resource.Kind() != EntityResource {
			return fmt.Errorf("require rule must name a resource")
		}
		return nil
	case RuleRequireNonFungible:
		if r.Resource.Kind() != EntityResource {
			return fmt.Errorf("require_non_fungible rule must name a resource")
		}
		return r.ID.Validate()
	case RuleAllOf, RuleAnyOf:
		for _, sub := range r.Rules {
			if err := sub.validate(depth + 1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown rule kind %d", r.Kind)
	}
}

func (r AccessRule) String() string {
	switch r.Kind {
	case RuleRequire:
		return fmt.Sprintf("require(%s)", r.Resource)
	case RuleRequireNonFungible:
		return fmt.Sprintf("require(%s#%s)", r.Resource, r.ID)
	case RuleAllOf, RuleAnyOf:
		parts := make([]string, len(r.Rules))
		for i, sub := range r.Rules {
			parts[i] = sub.String()
		}
		return fmt.Sprintf("%s(%s)", r.Kind, strings.Join(parts, ","))
	default:
		return r.Kind.String()
	}
}
