package blocklog

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/PlatformNetwork/subnet-validator/ids"
	"github.com/PlatformNetwork/subnet-validator/storage"
)

// Errors surfaced by Log.Append, matching the Validation-kind policy of
// spec.md §7.
var (
	ErrHashMismatch     = errors.New("blocklog: block_hash does not verify")
	ErrSequenceMismatch = errors.New("blocklog: block_number is not latest+1")
	ErrParentMismatch   = errors.New("blocklog: parent_hash does not match previous block")
	ErrGenesisParent    = errors.New("blocklog: genesis must have a zero parent_hash")
	ErrNonGenesisParent = errors.New("blocklog: non-genesis block must have a non-zero parent_hash")
	ErrDuplicateSig     = errors.New("blocklog: duplicate validator signature")
	ErrMissingSig       = errors.New("blocklog: non-genesis block requires at least one signature")
	ErrNotFound         = errors.New("blocklog: block not found")
)

const (
	blocksPrefix   = "blocks/"
	byHashPrefix   = "by_hash/"
	metadataPrefix = "metadata/"
	latestBlockKey = metadataPrefix + "latest_block_number"
)

// Log is an append-only sequence of signed blocks (Append checks that a
// non-genesis block carries at least one signature and no duplicate
// signer; it does not verify the signatures themselves) backed by
// three logical Pebble key spaces: blocks (by number), by_hash (hash to
// number index), and metadata (latest_block_number), per spec.md §6.
type Log struct {
	mu    sync.Mutex
	store storage.KV
}

// New wraps store as a Log. store must be empty or already contain a
// valid log written by this package.
func New(store storage.KV) *Log {
	return &Log{store: store}
}

func blockKey(n uint64) []byte {
	var buf [8 + len(blocksPrefix)]byte
	copy(buf[:len(blocksPrefix)], blocksPrefix)
	binary.BigEndian.PutUint64(buf[len(blocksPrefix):], n)
	return buf[:]
}

func hashKey(h [32]byte) []byte {
	return append([]byte(byHashPrefix), h[:]...)
}

// Append validates and writes the next block. block_number must equal
// latest_block_number+1 (mod 2^64); genesis (block_number 0) requires a
// zero parent_hash, every other block requires parent_hash to match the
// previous block's hash; the hash must verify and carry no duplicate
// validator signatures, and non-genesis blocks must carry at least one
// signature (spec.md §4.I).
func (l *Log) Append(b Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ComputeBlockHash(b.Header) != b.BlockHash {
		return ErrHashMismatch
	}
	if hasDuplicateSignature(b.Signatures) {
		return ErrDuplicateSig
	}

	isGenesis := b.Header.BlockNumber == 0
	var zero [32]byte
	if isGenesis {
		if b.Header.ParentHash != zero {
			return ErrGenesisParent
		}
	} else {
		if b.Header.ParentHash == zero {
			return ErrNonGenesisParent
		}
		if len(b.Signatures) == 0 {
			return ErrMissingSig
		}
	}

	latest, hasLatest, err := l.latestLocked()
	if err != nil {
		return err
	}
	if !hasLatest {
		if !isGenesis {
			return ErrSequenceMismatch
		}
	} else {
		if b.Header.BlockNumber != latest+1 {
			return ErrSequenceMismatch
		}
		prev, err := l.byNumberLocked(latest)
		if err != nil {
			return err
		}
		if prev.BlockHash != b.Header.ParentHash {
			return ErrParentMismatch
		}
	}

	raw, err := encodeBlock(b)
	if err != nil {
		return fmt.Errorf("blocklog: encode block: %w", err)
	}
	if err := l.store.Put(blockKey(b.Header.BlockNumber), raw); err != nil {
		return fmt.Errorf("blocklog: write block: %w", err)
	}
	numBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(numBuf, b.Header.BlockNumber)
	if err := l.store.Put(hashKey(b.BlockHash), numBuf); err != nil {
		return fmt.Errorf("blocklog: write hash index: %w", err)
	}
	if err := l.store.Put([]byte(latestBlockKey), numBuf); err != nil {
		return fmt.Errorf("blocklog: write latest marker: %w", err)
	}
	return nil
}

func (l *Log) latestLocked() (uint64, bool, error) {
	raw, err := l.store.Get([]byte(latestBlockKey))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (l *Log) byNumberLocked(n uint64) (Block, error) {
	raw, err := l.store.Get(blockKey(n))
	if errors.Is(err, storage.ErrNotFound) {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, err
	}
	var b Block
	if err := decodeBlock(raw, &b); err != nil {
		return Block{}, err
	}
	return b, nil
}

// GetBlockByNumber returns the block at the given number.
func (l *Log) GetBlockByNumber(n uint64) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byNumberLocked(n)
}

// GetBlockByHash returns the block with the given hash via the by_hash
// index.
func (l *Log) GetBlockByHash(h [32]byte) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.store.Get(hashKey(h))
	if errors.Is(err, storage.ErrNotFound) {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, err
	}
	return l.byNumberLocked(binary.BigEndian.Uint64(raw))
}

// ListBlocksInRange returns blocks [start, end] inclusive, empty when
// start > end (spec.md §4.I).
func (l *Log) ListBlocksInRange(start, end uint64) ([]Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if start > end {
		return nil, nil
	}
	blocks := make([]Block, 0, end-start+1)
	for n := start; n <= end; n++ {
		b, err := l.byNumberLocked(n)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
		if n == ^uint64(0) {
			break
		}
	}
	return blocks, nil
}

// GetStateRootAtBlock returns the current state_root recorded at block n
// for challengeID (or the block-wide root when challengeID is nil). Per
// spec.md §9, this is the *current* value recorded at that block number,
// not a historically versioned read — callers must treat it as
// best-effort until a versioned state overlay exists.
func (l *Log) GetStateRootAtBlock(n uint64, challengeID *ids.ChallengeId) ([32]byte, error) {
	b, err := l.GetBlockByNumber(n)
	if err != nil {
		return [32]byte{}, err
	}
	if challengeID == nil {
		return b.Header.StateRoot, nil
	}
	root, ok := b.Header.ChallengeRoots[*challengeID]
	if !ok {
		return [32]byte{}, ErrNotFound
	}
	return root, nil
}

// LatestBlockNumber returns the most recently appended block number and
// whether the log is non-empty.
func (l *Log) LatestBlockNumber() (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestLocked()
}

func encodeBlock(b Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlock(raw []byte, out *Block) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(out)
}
