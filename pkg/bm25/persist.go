package bm25

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

// Cache file layout v1:
//
//	[4B magic "GLB2"][2B version LE][2B reserved]
//	[8B k1 float64 LE][8B b float64 LE][8B created_at unix LE]
//	[2B hash_len LE][corpus hash bytes]
//	[2B sig_len LE][HMAC-SHA256 over header-without-sig + payload]
//	[JSON payload: doc ids, doc lengths, posting lists]
//
// The signature covers the parameter header, so tampering with k1/b or the
// recorded corpus hash is detected, not just payload corruption.
var (
	cacheMagic   = [4]byte{'G', 'L', 'B', '2'}
	cacheVersion = uint16(1)
)

var (
	// ErrBadFormat: not a cache file this version understands.
	ErrBadFormat = errors.New("bm25 cache: bad magic or version")
	// ErrBadSignature: HMAC mismatch, possible tampering.
	ErrBadSignature = errors.New("bm25 cache: signature mismatch")
	// ErrStale: corpus hash or (k1,b) no longer match; rebuild required.
	ErrStale = errors.New("bm25 cache: stale")
)

// IsStale reports whether err means the cache must be rebuilt rather than
// treated as corrupt.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

type cachePayload struct {
	DocIDs   []string             `json:"doc_ids"`
	DocLens  []int32              `json:"doc_lens"`
	Postings map[string][]posting `json:"postings"`
	TotalLen int64                `json:"total_len"`
}

// Save writes the signed cache file. The secret must match the one used at
// load time; an empty secret still produces a valid (but trivially forgeable)
// signature and is rejected by Load unless it is also empty there.
func (ix *Index) Save(path string, secret []byte, corpusHash string) error {
	payload, err := json.Marshal(cachePayload{
		DocIDs:   ix.docIDs,
		DocLens:  ix.docLens,
		Postings: ix.postings,
		TotalLen: ix.totalLen,
	})
	if err != nil {
		return fmt.Errorf("marshal bm25 payload: %w", err)
	}

	header := encodeHeader(ix.k1, ix.b, time.Now().UTC().Unix(), corpusHash)
	sig := sign(secret, header, payload)

	buf := bytes.NewBuffer(make([]byte, 0, len(header)+2+len(sig)+len(payload)))
	buf.Write(header)
	var sigLen [2]byte
	binary.LittleEndian.PutUint16(sigLen[:], uint16(len(sig)))
	buf.Write(sigLen[:])
	buf.Write(sig)
	buf.Write(payload)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Load reads and verifies a cache file. Rejections are typed: ErrBadFormat
// for unreadable files, ErrBadSignature for HMAC mismatches, ErrStale when
// the recorded corpus hash or parameters differ from the current ones. The
// caller deletes the file and rebuilds on any rejection.
func Load(path string, secret []byte, corpusHash string, k1, b float64) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	headerLen, fileK1, fileB, fileHash, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	rest := data[headerLen:]
	if len(rest) < 2 {
		return nil, fmt.Errorf("%w: truncated signature length", ErrBadFormat)
	}
	sigLen := int(binary.LittleEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < sigLen {
		return nil, fmt.Errorf("%w: truncated signature", ErrBadFormat)
	}
	sig := rest[:sigLen]
	payload := rest[sigLen:]

	expected := sign(secret, data[:headerLen], payload)
	if !hmac.Equal(sig, expected) {
		return nil, ErrBadSignature
	}

	if fileHash != corpusHash || fileK1 != k1 || fileB != b {
		return nil, ErrStale
	}

	var p cachePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if len(p.DocIDs) != len(p.DocLens) {
		return nil, fmt.Errorf("%w: doc id/length count mismatch", ErrBadFormat)
	}

	ix := New(k1, b)
	ix.docIDs = p.DocIDs
	ix.docLens = p.DocLens
	ix.postings = p.Postings
	if ix.postings == nil {
		ix.postings = make(map[string][]posting)
	}
	ix.totalLen = p.TotalLen
	return ix, nil
}

func encodeHeader(k1, b float64, createdAt int64, corpusHash string) []byte {
	hashBytes := []byte(corpusHash)
	header := make([]byte, 4+2+2+8+8+8+2+len(hashBytes))
	copy(header[0:4], cacheMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], cacheVersion)
	// header[6:8] reserved, zero
	binary.LittleEndian.PutUint64(header[8:16], math.Float64bits(k1))
	binary.LittleEndian.PutUint64(header[16:24], math.Float64bits(b))
	binary.LittleEndian.PutUint64(header[24:32], uint64(createdAt))
	binary.LittleEndian.PutUint16(header[32:34], uint16(len(hashBytes)))
	copy(header[34:], hashBytes)
	return header
}

func decodeHeader(data []byte) (headerLen int, k1, b float64, corpusHash string, err error) {
	if len(data) < 34 {
		return 0, 0, 0, "", fmt.Errorf("%w: file too short", ErrBadFormat)
	}
	if data[0] != cacheMagic[0] || data[1] != cacheMagic[1] ||
		data[2] != cacheMagic[2] || data[3] != cacheMagic[3] {
		return 0, 0, 0, "", fmt.Errorf("%w: magic %x", ErrBadFormat, data[0:4])
	}
	if ver := binary.LittleEndian.Uint16(data[4:6]); ver != cacheVersion {
		return 0, 0, 0, "", fmt.Errorf("%w: version %d", ErrBadFormat, ver)
	}
	k1 = math.Float64frombits(binary.LittleEndian.Uint64(data[8:16]))
	b = math.Float64frombits(binary.LittleEndian.Uint64(data[16:24]))
	hashLen := int(binary.LittleEndian.Uint16(data[32:34]))
	if len(data) < 34+hashLen {
		return 0, 0, 0, "", fmt.Errorf("%w: truncated corpus hash", ErrBadFormat)
	}
	corpusHash = string(data[34 : 34+hashLen])
	return 34 + hashLen, k1, b, corpusHash, nil
}

func sign(secret, header, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(header)
	mac.Write(payload)
	return mac.Sum(nil)
}
