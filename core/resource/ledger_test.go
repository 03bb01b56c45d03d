package resource

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"resengine/core/auth"
	"resengine/core/decimal"
	engerrors "resengine/core/errors"
	"resengine/core/types"
)

type memDefs struct {
	defs     map[types.EntityID]*Definition
	existing map[string]bool
}

func (m *memDefs) Definition(id types.EntityID) (*Definition, error) {
	def, ok := m.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engerrors.ErrNotFound, id)
	}
	return def, nil
}

func (m *memDefs) NonFungibleExists(res types.EntityID, id types.NonFungibleID) (bool, error) {
	return m.existing[res.String()+"/"+string(id)], nil
}

const frame types.FrameID = 1

var (
	minter = types.DeriveEntityID(types.EntityResource, []byte("badge"), 0)
	tokenX = types.DeriveEntityID(types.EntityResource, []byte("x"), 0)
	tokenY = types.DeriveEntityID(types.EntityResource, []byte("y"), 0)
	nft    = types.DeriveEntityID(types.EntityResource, []byte("nft"), 0)
	fixed  = types.DeriveEntityID(types.EntityResource, []byte("fixed"), 0)
)

func newTestLedger() (*Ledger, *memDefs) {
	defs := &memDefs{
		defs: map[types.EntityID]*Definition{
			tokenX: {ID: tokenX, Kind: types.ResourceFungible, Divisibility: 18, Mintable: true, MintRule: auth.Require(minter), Burnable: true},
			tokenY: {ID: tokenY, Kind: types.ResourceFungible, Divisibility: 2, Mintable: true, MintRule: auth.AllowAll()},
			nft:    {ID: nft, Kind: types.ResourceNonFungible, Mintable: true, MintRule: auth.AllowAll(), Burnable: true},
			fixed:  {ID: fixed, Kind: types.ResourceFungible, Divisibility: 18, MintRule: auth.AllowAll()},
		},
		existing: map[string]bool{},
	}
	return NewLedger(defs), defs
}

func minterZone() *auth.Zone {
	return auth.NewZone(auth.Proof{Resource: minter, Amount: decimal.FromUint64(1)})
}

func amount(s string) decimal.Decimal { return decimal.MustParse(s) }

func TestMintRequiresSatisfiedRule(t *testing.T) {
	l, _ := newTestLedger()
	_, err := l.Mint(tokenX, amount("100"), nil, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrAuthorizationDenied)

	_, err = l.Mint(fixed, amount("1"), nil, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrAuthorizationDenied, "fixed supply")

	id, err := l.Mint(tokenX, amount("100"), nil, minterZone(), frame)
	require.NoError(t, err)
	c, err := l.Get(id, frame)
	require.NoError(t, err)
	require.Equal(t, "100", c.Amount.String())
	require.Equal(t, "100", l.Supply(tokenX).Minted.String())
	require.NoError(t, l.Audit())
}

func TestMintRejectsBadQuantities(t *testing.T) {
	l, defs := newTestLedger()
	_, err := l.Mint(tokenY, amount("0.001"), nil, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrInvalidArgument)
	_, err = l.Mint(tokenY, decimal.Zero(), nil, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrInvalidArgument)
	_, err = l.Mint(tokenY, decimal.Zero(), []types.NonFungibleID{"a"}, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrResourceKindMismatch)
	_, err = l.Mint(nft, amount("2"), nil, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrResourceKindMismatch)

	_, err = l.Mint(nft, decimal.Zero(), []types.NonFungibleID{"a", "a"}, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrDuplicateNonFungibleID)

	_, err = l.Mint(nft, decimal.Zero(), []types.NonFungibleID{"b", "a"}, auth.NewZone(), frame)
	require.NoError(t, err)
	_, err = l.Mint(nft, decimal.Zero(), []types.NonFungibleID{"b"}, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrDuplicateNonFungibleID, "minted earlier in this transaction")

	defs.existing[nft.String()+"/c"] = true
	_, err = l.Mint(nft, decimal.Zero(), []types.NonFungibleID{"c"}, auth.NewZone(), frame)
	require.ErrorIs(t, err, engerrors.ErrDuplicateNonFungibleID, "already persisted")
	require.Equal(t, []types.NonFungibleID{"a", "b"}, l.MintedIDs(nft))
}

func TestSplitMergeExactness(t *testing.T) {
	for _, n := range []string{"0", "0.000000000000000001", "33.333333333333333333", "99.999999999999999999", "100"} {
		t.Run(n, func(t *testing.T) {
			l, _ := newTestLedger()
			id, err := l.Mint(tokenX, amount("100"), nil, minterZone(), frame)
			require.NoError(t, err)

			rest, out, err := l.Split(id, frame, amount(n), nil)
			require.NoError(t, err)
			require.Equal(t, id, rest)
			merged, err := l.Merge(rest, out, frame)
			require.NoError(t, err)

			c, err := l.Get(merged, frame)
			require.NoError(t, err)
			require.Equal(t, tokenX, c.Resource)
			require.True(t, amount("100").Equal(c.Amount))
			require.Equal(t, 1, l.Live())
			require.NoError(t, l.Audit())
		})
	}
}

func TestSplitInsufficientLeavesContainerUnchanged(t *testing.T) {
	l, _ := newTestLedger()
	id, err := l.Mint(tokenX, amount("10"), nil, minterZone(), frame)
	require.NoError(t, err)
	before, err := l.Get(id, frame)
	require.NoError(t, err)

	_, _, err = l.Split(id, frame, amount("10.000000000000000001"), nil)
	require.ErrorIs(t, err, engerrors.ErrInsufficientResource)

	after, err := l.Get(id, frame)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 1, l.Live())
}

func TestNonFungibleSplitAndMerge(t *testing.T) {
	l, _ := newTestLedger()
	id, err := l.Mint(nft, decimal.Zero(), []types.NonFungibleID{"c", "a", "b"}, auth.NewZone(), frame)
	require.NoError(t, err)

	_, out, err := l.Split(id, frame, decimal.Zero(), []types.NonFungibleID{"b"})
	require.NoError(t, err)
	c, err := l.Get(out, frame)
	require.NoError(t, err)
	require.Equal(t, []types.NonFungibleID{"b"}, c.IDs)

	_, _, err = l.Split(id, frame, decimal.Zero(), []types.NonFungibleID{"b"})
	require.ErrorIs(t, err, engerrors.ErrInsufficientResource)

	_, first, err := l.Split(id, frame, amount("1"), nil)
	require.NoError(t, err)
	c, err = l.Get(first, frame)
	require.NoError(t, err)
	require.Equal(t, []types.NonFungibleID{"a"}, c.IDs, "count splits take the lowest ids")

	_, err = l.Merge(id, out, frame)
	require.NoError(t, err)
	_, err = l.Merge(id, first, frame)
	require.NoError(t, err)
	c, err = l.Get(id, frame)
	require.NoError(t, err)
	require.Equal(t, []types.NonFungibleID{"a", "b", "c"}, c.IDs)
	require.NoError(t, l.Audit())
}

func TestMergeRejectsMismatchAndDuplicates(t *testing.T) {
	l, _ := newTestLedger()
	x, err := l.Mint(tokenX, amount("1"), nil, minterZone(), frame)
	require.NoError(t, err)
	y, err := l.Mint(tokenY, amount("1"), nil, auth.NewZone(), frame)
	require.NoError(t, err)
	_, err = l.Merge(x, y, frame)
	require.ErrorIs(t, err, engerrors.ErrResourceKindMismatch)

	vault := NewVault(types.DeriveEntityID(types.EntityVault, nil, 0), &Definition{ID: nft, Kind: types.ResourceNonFungible}, types.EntityID{}, auth.AllowAll())
	vault.IDs = []types.NonFungibleID{"a"}
	vault.Amount = decimal.FromUint64(1)
	a, err := l.Withdraw(vault, decimal.Zero(), []types.NonFungibleID{"a"}, frame)
	require.NoError(t, err)
	b, err := l.Mint(nft, decimal.Zero(), []types.NonFungibleID{"b"}, auth.NewZone(), frame)
	require.NoError(t, err)

	// A forged container holding "a" twice can only come from a bug, but the
	// union must still refuse it.
	l.arena[b].IDs = []types.NonFungibleID{"a"}
	_, err = l.Merge(a, b, frame)
	require.ErrorIs(t, err, engerrors.ErrDuplicateNonFungibleID)
}

func TestBurn(t *testing.T) {
	l, _ := newTestLedger()
	y, err := l.Mint(tokenY, amount("5"), nil, auth.NewZone(), frame)
	require.NoError(t, err)
	require.ErrorIs(t, l.Burn(y, frame), engerrors.ErrBurnNotAllowed)

	x, err := l.Mint(tokenX, amount("5"), nil, minterZone(), frame)
	require.NoError(t, err)
	require.ErrorIs(t, l.Burn(x, 2), engerrors.ErrInvalidArgument, "not the owner")
	require.NoError(t, l.Burn(x, frame))
	s := l.Supply(tokenX)
	require.Equal(t, "5", s.Burned.String())
	require.True(t, s.Live.IsZero())
	require.NoError(t, l.Audit())
}

func TestVaultRoundTripConservesSupply(t *testing.T) {
	l, _ := newTestLedger()
	def := &Definition{ID: tokenX, Kind: types.ResourceFungible, Divisibility: 18}
	v1 := NewVault(types.DeriveEntityID(types.EntityVault, nil, 1), def, types.EntityID{}, auth.AllowAll())
	v2 := NewVault(types.DeriveEntityID(types.EntityVault, nil, 2), def, types.EntityID{}, auth.AllowAll())

	minted, err := l.Mint(tokenX, amount("100"), nil, minterZone(), frame)
	require.NoError(t, err)
	require.NoError(t, l.Deposit(minted, frame, v1))
	taken, err := l.Withdraw(v1, amount("40"), nil, frame)
	require.NoError(t, err)
	require.NoError(t, l.Deposit(taken, frame, v2))

	require.Equal(t, "60", v1.Amount.String())
	require.Equal(t, "40", v2.Amount.String())
	require.Zero(t, l.Live())

	_, err = l.Withdraw(v1, amount("61"), nil, frame)
	require.ErrorIs(t, err, engerrors.ErrInsufficientResource)
	require.Equal(t, "60", v1.Amount.String())

	other, err := l.Mint(tokenY, amount("1"), nil, auth.NewZone(), frame)
	require.NoError(t, err)
	require.ErrorIs(t, l.Deposit(other, frame, v1), engerrors.ErrResourceKindMismatch)
	require.Equal(t, 1, l.Live())

	s := l.Supply(tokenX)
	require.Equal(t, "100", s.Minted.String())
	require.Equal(t, "140", s.Deposited.String())
	require.Equal(t, "40", s.Withdrawn.String())
	require.NoError(t, l.Audit())
}

func TestConservationAtEveryStep(t *testing.T) {
	l, _ := newTestLedger()
	ids := []ContainerID{}
	id, err := l.Mint(tokenX, amount("1000"), nil, minterZone(), frame)
	require.NoError(t, err)
	ids = append(ids, id)
	for i := 0; i < 20; i++ {
		_, out, err := l.Split(ids[i%len(ids)], frame, amount("1.5"), nil)
		if err != nil {
			require.ErrorIs(t, err, engerrors.ErrInsufficientResource)
			continue
		}
		ids = append(ids, out)
		require.NoError(t, l.Audit())
	}
	for len(ids) > 1 {
		_, err := l.Merge(ids[0], ids[len(ids)-1], frame)
		require.NoError(t, err)
		ids = ids[:len(ids)-1]
		require.NoError(t, l.Audit())
	}
	c, err := l.Get(ids[0], frame)
	require.NoError(t, err)
	require.Equal(t, "1000", c.Amount.String())
}

func TestTransferAndDrop(t *testing.T) {
	l, _ := newTestLedger()
	id, err := l.Mint(tokenX, amount("3"), nil, minterZone(), frame)
	require.NoError(t, err)
	require.NoError(t, l.Transfer(id, frame, 2))
	_, err = l.Get(id, frame)
	require.ErrorIs(t, err, engerrors.ErrInvalidArgument)
	require.Equal(t, []ContainerID{id}, l.OwnedBy(2))

	require.ErrorIs(t, l.Drop(id, 2), engerrors.ErrDanglingResource)
	_, empty, err := l.Split(id, 2, decimal.Zero(), nil)
	require.NoError(t, err)
	require.NoError(t, l.Drop(empty, 2))
	require.Equal(t, 1, l.Live())
}
