// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint is a durable, ordered, append+latest-read store of
// WorkflowState snapshots, keyed by (workflow_id, step). It is backed by
// an embedded bbolt database, one bucket per workflow_id, with
// zero-padded sequence-number keys so bucket iteration order equals
// append order.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Record is a single durable checkpoint entry.
type Record struct {
	WorkflowID     string    `json:"workflow_id"`
	StepName       string    `json:"step_name"`
	CreatedAt      time.Time `json:"created_at"`
	StateSnapshot  []byte    `json:"state_snapshot"`
	ParentStep     string    `json:"parent_step"`
}

// Store is a bbolt-backed, single-writer-per-workflow checkpoint store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append durably writes record to the bucket for record.WorkflowID,
// assigning it the next monotonic sequence number in that bucket. bbolt's
// own single-writer transaction serializes concurrent appends for the
// same workflow_id.
func (s *Store) Append(record Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(record.WorkflowID))
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), data)
	})
}

// Latest returns the most recently appended record for workflowID, or
// (Record{}, false, nil) if none exists.
func (s *Store) Latest(workflowID string) (Record, bool, error) {
	var record Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(workflowID))
		if bucket == nil {
			return nil
		}
		_, data := bucket.Cursor().Last()
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &record)
	})
	return record, found, err
}

// History returns every record for workflowID in append order.
func (s *Store) History(workflowID string) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(workflowID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, data []byte) error {
			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

// seqKey zero-pads seq so lexicographic bucket-key order matches the
// numeric append order regardless of magnitude.
func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
