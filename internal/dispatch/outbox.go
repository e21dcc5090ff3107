package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBatches   = []byte("batches")
	bucketPending   = []byte("pending")
	bucketCampaigns = []byte("campaigns")
)

// Outbox stores per-variant batches for the delivery pipeline using BoltDB
type Outbox struct {
	db  *bolt.DB
	now func() time.Time
}

// NewOutbox opens or creates the outbox database at path
func NewOutbox(path string) (*Outbox, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create outbox directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBatches, bucketPending, bucketCampaigns} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Outbox{db: db, now: time.Now}, nil
}

// Dispatch stores every batch of one send in a single transaction.
// Missing IDs and creation times are filled in on the passed batches.
func (o *Outbox) Dispatch(ctx context.Context, batches []*Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := o.now()
	return o.db.Update(func(tx *bolt.Tx) error {
		batchBucket := tx.Bucket(bucketBatches)
		pendingBucket := tx.Bucket(bucketPending)
		campaignBucket := tx.Bucket(bucketCampaigns)

		for _, b := range batches {
			if b.ID == "" {
				b.ID = uuid.New().String()
			}
			if b.CreatedAt.IsZero() {
				b.CreatedAt = now
			}
			b.Status = StatusPending

			data, err := json.Marshal(b)
			if err != nil {
				return fmt.Errorf("failed to marshal batch: %w", err)
			}
			if err := batchBucket.Put([]byte(b.ID), data); err != nil {
				return fmt.Errorf("failed to store batch: %w", err)
			}
			if err := pendingBucket.Put(makeIndexKey(b.SendAt(), b.ID), []byte(b.ID)); err != nil {
				return fmt.Errorf("failed to add to pending index: %w", err)
			}
			if err := campaignBucket.Put(makeCampaignKey(b.CampaignID, b.ID), []byte(b.ID)); err != nil {
				return fmt.Errorf("failed to add to campaign index: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a batch by ID, or nil if it does not exist
func (o *Outbox) Get(ctx context.Context, id string) (*Batch, error) {
	var batch *Batch

	err := o.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBatches).Get([]byte(id))
		if data == nil {
			return nil
		}

		batch = &Batch{}
		return json.Unmarshal(data, batch)
	})

	return batch, err
}

// List returns the batches dispatched for a campaign
func (o *Outbox) List(ctx context.Context, campaignID string) ([]*Batch, error) {
	var batches []*Batch

	err := o.db.View(func(tx *bolt.Tx) error {
		batchBucket := tx.Bucket(bucketBatches)
		c := tx.Bucket(bucketCampaigns).Cursor()

		prefix := makeCampaignKey(campaignID, "")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := batchBucket.Get(v)
			if data == nil {
				continue
			}
			var b Batch
			if err := json.Unmarshal(data, &b); err != nil {
				continue
			}
			batches = append(batches, &b)
		}
		return nil
	})

	return batches, err
}

// Claim hands the oldest due pending batch to the delivery pipeline.
// It returns nil when nothing is due.
func (o *Outbox) Claim(ctx context.Context) (*Batch, error) {
	var batch *Batch

	err := o.db.Update(func(tx *bolt.Tx) error {
		batchBucket := tx.Bucket(bucketBatches)
		c := tx.Bucket(bucketPending).Cursor()
		now := o.now()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break // All remaining are in the future
			}

			data := batchBucket.Get(v)
			if data == nil {
				// Batch was discarded, clean up index
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}

			var b Batch
			if err := json.Unmarshal(data, &b); err != nil {
				continue
			}

			b.Status = StatusClaimed
			b.ClaimedAt = &now

			updated, err := json.Marshal(&b)
			if err != nil {
				return err
			}
			if err := batchBucket.Put([]byte(b.ID), updated); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}

			batch = &b
			return nil
		}
		return nil
	})

	return batch, err
}

// Discard removes batches and their index entries. Unknown IDs are ignored.
func (o *Outbox) Discard(ctx context.Context, ids []string) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		batchBucket := tx.Bucket(bucketBatches)
		pendingBucket := tx.Bucket(bucketPending)
		campaignBucket := tx.Bucket(bucketCampaigns)

		for _, id := range ids {
			data := batchBucket.Get([]byte(id))
			if data == nil {
				continue
			}

			var b Batch
			if err := json.Unmarshal(data, &b); err == nil {
				pendingBucket.Delete(makeIndexKey(b.SendAt(), b.ID))
				campaignBucket.Delete(makeCampaignKey(b.CampaignID, b.ID))
			}

			if err := batchBucket.Delete([]byte(id)); err != nil {
				return fmt.Errorf("failed to discard batch %s: %w", id, err)
			}
		}
		return nil
	})
}

// Stats returns outbox statistics
func (o *Outbox) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := o.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBatches).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var b Batch
			if err := json.Unmarshal(v, &b); err != nil {
				continue
			}

			stats.Total++
			stats.Recipients += len(b.Recipients)
			switch b.Status {
			case StatusPending:
				stats.Pending++
			case StatusClaimed:
				stats.Claimed++
			}
		}
		return nil
	})

	return stats, err
}

// Close closes the outbox database
func (o *Outbox) Close() error {
	return o.db.Close()
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	// Fixed-width UTC timestamp keeps keys in chronological order
	return []byte(t.UTC().Format("20060102T150405.000000000Z") + "|" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	i := bytes.IndexByte(key, '|')
	if i < 0 {
		return time.Time{}
	}
	ts, _ := time.Parse("20060102T150405.000000000Z", string(key[:i]))
	return ts
}

func makeCampaignKey(campaignID, batchID string) []byte {
	return []byte(campaignID + "|" + batchID)
}
