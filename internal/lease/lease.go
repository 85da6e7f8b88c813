package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Manager hands out per-campaign dispatch leases. A lease guarantees only
// one worker processes a campaign at a time; its TTL must be shorter than a
// batch's end-to-end send time so a crashed worker's claim is reclaimable,
// and the holder renews while actively processing.
type Manager struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	return &Manager{Client: client, TTL: ttl}
}

// Lease is a held claim, released or renewed only by its owner token.
type Lease struct {
	manager    *Manager
	key        string
	owner      string
	CampaignID int
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

func key(campaignID int) string {
	return fmt.Sprintf("dispatch:lease:%d", campaignID)
}

// Acquire returns nil, nil when another worker holds the lease.
func (m *Manager) Acquire(ctx context.Context, campaignID int) (*Lease, error) {
	owner := uuid.NewString()
	ok, err := m.Client.SetNX(ctx, key(campaignID), owner, m.TTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{manager: m, key: key(campaignID), owner: owner, CampaignID: campaignID}, nil
}

// Renew extends the TTL; false means the lease expired and was taken over.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	res, err := renewScript.Run(ctx, l.manager.Client, []string{l.key},
		l.owner, l.manager.TTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.manager.Client, []string{l.key}, l.owner).Err()
}
