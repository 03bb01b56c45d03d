package auth

import "resengine/core/types"

// Rule constructors. The zero types.AccessRule denies everything.

func AllowAll() types.AccessRule { return types.AccessRule{Kind: types.RuleAllowAll} }

func DenyAll() types.AccessRule { return types.AccessRule{Kind: types.RuleDenyAll} }

// Require is satisfied by any non-empty proof of resource.
func Require(resource types.EntityID) types.AccessRule {
	return types.AccessRule{Kind: types.RuleRequire, Resource: resource}
}

// RequireNonFungible is satisfied by a proof containing id of resource.
func RequireNonFungible(resource types.EntityID, id types.NonFungibleID) types.AccessRule {
	return types.AccessRule{Kind: types.RuleRequireNonFungible, Resource: resource, ID: id}
}

// RequireSigner is satisfied when signer signed the transaction.
func RequireSigner(signer [20]byte) types.AccessRule {
	return RequireNonFungible(types.SignatureBadge, types.SignerBadgeID(signer))
}

func AllOf(rules ...types.AccessRule) types.AccessRule {
	return types.AccessRule{Kind: types.RuleAllOf, Rules: rules}
}

func AnyOf(rules ...types.AccessRule) types.AccessRule {
	return types.AccessRule{Kind: types.RuleAnyOf, Rules: rules}
}
