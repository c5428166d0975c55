package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"recycler/core/types"
)

var (
	eventCountKey  = []byte("events/count")
	eventHeadKey   = []byte("events/head")
	eventRecordKey = []byte("events/record/")
)

// ErrEventChainBroken is returned when a stored record does not link to its
// predecessor.
var ErrEventChainBroken = errors.New("state: event chain broken")

// EventAttribute is a single key/value pair of an event payload. Attributes are
// stored sorted by key so that encodings are deterministic.
type EventAttribute struct {
	Key   string
	Value string
}

// EventRecord is an immutable entry of the append-only event log. Each record
// commits to the hash of the previous record.
type EventRecord struct {
	Sequence   uint64
	Type       string
	Attributes []EventAttribute
	PrevHash   [32]byte
	Hash       [32]byte
}

// Event converts the record back to the generic event payload.
func (r EventRecord) Event() *types.Event {
	attrs := make(map[string]string, len(r.Attributes))
	for _, attr := range r.Attributes {
		attrs[attr.Key] = attr.Value
	}
	return &types.Event{Type: r.Type, Attributes: attrs}
}

type eventDigest struct {
	Sequence   uint64
	Type       string
	Attributes []EventAttribute
	PrevHash   [32]byte
}

func (r EventRecord) digest() ([32]byte, error) {
	encoded, err := rlp.EncodeToBytes(eventDigest{
		Sequence:   r.Sequence,
		Type:       r.Type,
		Attributes: r.Attributes,
		PrevHash:   r.PrevHash,
	})
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}

func eventKey(seq uint64) []byte {
	buf := make([]byte, len(eventRecordKey)+8)
	copy(buf, eventRecordKey)
	binary.BigEndian.PutUint64(buf[len(eventRecordKey):], seq)
	return buf
}

func sortedAttributes(attrs map[string]string) []EventAttribute {
	out := make([]EventAttribute, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, EventAttribute{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// EventCount returns the number of records in the event log.
func (m *Manager) EventCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(eventCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// AppendEvent writes evt to the log and returns the stored record. The write
// is journaled like any other state mutation.
func (m *Manager) AppendEvent(evt *types.Event) (*EventRecord, error) {
	if evt == nil || evt.Type == "" {
		return nil, fmt.Errorf("state: event type required")
	}
	count, err := m.EventCount()
	if err != nil {
		return nil, err
	}
	var head [32]byte
	if _, err := m.KVGet(eventHeadKey, &head); err != nil {
		return nil, err
	}
	record := EventRecord{
		Sequence:   count,
		Type:       evt.Type,
		Attributes: sortedAttributes(evt.Attributes),
		PrevHash:   head,
	}
	record.Hash, err = record.digest()
	if err != nil {
		return nil, err
	}
	if err := m.KVPut(eventKey(count), record); err != nil {
		return nil, err
	}
	if err := m.KVPut(eventHeadKey, record.Hash); err != nil {
		return nil, err
	}
	if err := m.KVPut(eventCountKey, count+1); err != nil {
		return nil, err
	}
	return &record, nil
}

// Events returns up to limit records starting at offset.
func (m *Manager) Events(offset, limit uint64) ([]EventRecord, error) {
	count, err := m.EventCount()
	if err != nil {
		return nil, err
	}
	if offset >= count || limit == 0 {
		return []EventRecord{}, nil
	}
	end := offset + limit
	if end > count || end < offset {
		end = count
	}
	out := make([]EventRecord, 0, end-offset)
	for seq := offset; seq < end; seq++ {
		var record EventRecord
		ok, err := m.KVGet(eventKey(seq), &record)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: event %d missing", seq)
		}
		out = append(out, record)
	}
	return out, nil
}

// VerifyEvents recomputes the hash chain over the whole log.
func (m *Manager) VerifyEvents() error {
	count, err := m.EventCount()
	if err != nil {
		return err
	}
	records, err := m.Events(0, count)
	if err != nil {
		return err
	}
	var prev [32]byte
	for _, record := range records {
		if record.PrevHash != prev {
			return fmt.Errorf("%w at sequence %d", ErrEventChainBroken, record.Sequence)
		}
		digest, err := record.digest()
		if err != nil {
			return err
		}
		if digest != record.Hash {
			return fmt.Errorf("%w at sequence %d", ErrEventChainBroken, record.Sequence)
		}
		prev = record.Hash
	}
	return nil
}
