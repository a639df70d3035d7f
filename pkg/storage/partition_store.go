package storage

import (
	"fmt"

	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/tree"
)

// PartitionStore persists one blob per 12-bit Merkle partition: the 32-byte
// leaf hashes back to back (no length prefix; the count follows from the
// blob length) followed by the cached subtree root,
// plus a backup copy written before every in-place rewrite so a crash mid-
// finalization can recover the pre-transition state (spec §4.1).
type PartitionStore struct {
	db *DB
}

func NewPartitionStore(db *DB) *PartitionStore {
	return &PartitionStore{db: db}
}

var _ tree.PartitionStore = (*PartitionStore)(nil)

func encodeLeaves(leaves []field.Element, root field.Element) []byte {
	buf := make([]byte, 0, 32*len(leaves)+32)
	for _, l := range leaves {
		b := l.Bytes32()
		buf = append(buf, b[:]...)
	}
	rb := root.Bytes32()
	buf = append(buf, rb[:]...)
	return buf
}

func decodeLeaves(blob []byte) ([]field.Element, field.Element, error) {
	if len(blob) < 32 || (len(blob)-32)%32 != 0 {
		return nil, field.Zero, fmt.Errorf("storage: malformed partition blob, len=%d", len(blob))
	}
	n := (len(blob) - 32) / 32
	leaves := make([]field.Element, n)
	for i := 0; i < n; i++ {
		leaves[i] = field.FromBytes(blob[i*32 : (i+1)*32])
	}
	root := field.FromBytes(blob[len(blob)-32:])
	return leaves, root, nil
}

// LoadPartition returns the persisted leaf array and root for a partition,
// or (nil, zero, nil) if the partition has never been written.
func (s *PartitionStore) LoadPartition(id uint64) ([]field.Element, field.Element, error) {
	blob, ok, err := s.db.get(partitionKey(id))
	if err != nil {
		return nil, field.Zero, fmt.Errorf("storage: load partition %d: %w", id, err)
	}
	if !ok {
		return nil, field.Zero, nil
	}
	return decodeLeaves(blob)
}

// SavePartition writes a backup of the pre-transition leaves, then commits
// the new leaf array and root.
func (s *PartitionStore) SavePartition(id uint64, prevLeaves, newLeaves []field.Element, newRoot field.Element) error {
	if len(prevLeaves) > 0 {
		backupBlob := encodeLeaves(prevLeaves, field.Zero)
		if err := s.db.set(partitionBackupKey(id), backupBlob, true); err != nil {
			return fmt.Errorf("storage: backup partition %d: %w", id, err)
		}
	}
	newBlob := encodeLeaves(newLeaves, newRoot)
	if err := s.db.set(partitionKey(id), newBlob, true); err != nil {
		return fmt.Errorf("storage: save partition %d: %w", id, err)
	}
	return nil
}

// LoadBackup recovers the pre-transition leaves for a partition, used by the
// cold-start Restore path (spec §4.4) when a finalization is interrupted
// between the backup write and the new-state write.
func (s *PartitionStore) LoadBackup(id uint64) ([]field.Element, error) {
	blob, ok, err := s.db.get(partitionBackupKey(id))
	if err != nil {
		return nil, fmt.Errorf("storage: load partition backup %d: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	leaves, _, err := decodeLeaves(blob)
	return leaves, err
}
