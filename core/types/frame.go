package types

// FrameID identifies a call frame within one transaction. Ids are never
// reused, so a stale id cannot alias a newer frame.
type FrameID uint64

// SubstateType tags the payload stored in a substate.
type SubstateType uint8

const (
	SubstateComponentData SubstateType = iota + 1
	SubstateComponentInfo
	SubstatePackage
	SubstateResource
	SubstateNonFungible
	SubstateVault
)

func (t SubstateType) String() string {
	switch t {
	case SubstateComponentData:
		return "component_data"
	case SubstateComponentInfo:
		return "component_info"
	case SubstatePackage:
		return "package"
	case SubstateResource:
		return "resource"
	case SubstateNonFungible:
		return "non_fungible"
	case SubstateVault:
		return "vault"
	default:
		return "unknown"
	}
}

func (t SubstateType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
