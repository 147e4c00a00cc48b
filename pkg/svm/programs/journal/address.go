package journal

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/fortiblox/x1-journal/internal/types"
	"github.com/fortiblox/x1-journal/pkg/pda"
)

// DefaultAddressCacheTTL bounds how long a derived entry address is reused.
const DefaultAddressCacheTTL = 10 * time.Minute

// Titles double as seeds, so the per-seed limit follows the title cap.
var entryDeriver = pda.Deriver{MaxSeedLen: MaxTitleLen}

// EntrySeeds returns the derivation seeds of the entry (title, owner).
func EntrySeeds(title string, owner types.Pubkey) [][]byte {
	return [][]byte{[]byte(title), owner.Bytes()}
}

// DeriveEntryAddress returns the account address and bump of the entry
// (title, owner) under programID.
func DeriveEntryAddress(programID types.Pubkey, title string, owner types.Pubkey) (types.Pubkey, uint8, error) {
	if len(title) > MaxTitleLen {
		return types.Pubkey{}, 0, fmt.Errorf("%w: title is %d bytes, limit %d", ErrFieldTooLarge, len(title), MaxTitleLen)
	}
	return entryDeriver.FindProgramAddress(EntrySeeds(title, owner), programID)
}

type addressKey struct {
	program types.Pubkey
	owner   types.Pubkey
	title   string
}

type derivedAddress struct {
	address types.Pubkey
	bump    uint8
}

// addressCache memoises entry derivations. A hit returns exactly what
// DeriveEntryAddress would.
type addressCache struct {
	ttl   time.Duration
	cache *ttlcache.Cache[addressKey, derivedAddress]
}

func newAddressCache(ttl time.Duration) *addressCache {
	return &addressCache{
		ttl: ttl,
		cache: ttlcache.New(
			ttlcache.WithTTL[addressKey, derivedAddress](ttl),
		),
	}
}

func (c *addressCache) derive(programID types.Pubkey, title string, owner types.Pubkey) (types.Pubkey, uint8, error) {
	key := addressKey{program: programID, owner: owner, title: title}
	if item := c.cache.Get(key); item != nil && !item.IsExpired() {
		v := item.Value()
		return v.address, v.bump, nil
	}

	addr, bump, err := DeriveEntryAddress(programID, title, owner)
	if err != nil {
		return types.Pubkey{}, 0, err
	}
	c.cache.Set(key, derivedAddress{address: addr, bump: bump}, c.ttl)
	return addr, bump, nil
}

func (c *addressCache) len() int {
	return c.cache.Len()
}
