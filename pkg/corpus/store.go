package corpus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta   = []byte("meta")
	bucketChunks = []byte("chunks")
	keyBuildInfo = []byte("build_info")
)

// BuildInfo records how the ingestion collaborator produced the corpus.
type BuildInfo struct {
	BuiltAt        string `json:"built_at"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	TotalChunks    int    `json:"total_chunks"`
	CorpusHash     string `json:"corpus_hash"`
}

// Store persists chunks in a bbolt database and embeddings in a flat binary
// file. The query pipeline only reads it; writes happen at ingestion time.
type Store struct {
	dir string
	db  *bolt.DB
}

// OpenStore opens or creates the corpus database in dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(DBPath(dir), 0o644, &bolt.Options{NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("open corpus db: %w", err)
	}
	return &Store{dir: dir, db: db}, nil
}

// DBPath returns the corpus database path inside dir.
func DBPath(dir string) string {
	return filepath.Join(dir, "corpus.db")
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveChunks writes build info and all chunks in one transaction, replacing
// any previous content. Syncs explicitly (the db runs with NoSync).
func (s *Store) SaveChunks(info BuildInfo, chunks []Chunk) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		infoData, err := json.Marshal(info)
		if err != nil {
			return err
		}
		if err := mb.Put(keyBuildInfo, infoData); err != nil {
			return err
		}

		// recreate chunks bucket to clear stale data
		if err := tx.DeleteBucket(bucketChunks); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("delete chunks bucket: %w", err)
		}
		cb, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		for i, c := range chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal chunk %d: %w", i, err)
			}
			key := make([]byte, 4)
			binary.BigEndian.PutUint32(key, uint32(i))
			if err := cb.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.db.Sync()
}

// LoadChunks reads all chunks in insertion order.
func (s *Store) LoadChunks() ([]Chunk, error) {
	var chunks []Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var c Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	return chunks, err
}

// LoadBuildInfo reads ingestion metadata, or nil when absent.
func (s *Store) LoadBuildInfo() (*BuildInfo, error) {
	var info *BuildInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		data := b.Get(keyBuildInfo)
		if data == nil {
			return nil
		}
		info = &BuildInfo{}
		return json.Unmarshal(data, info)
	})
	return info, err
}

// vectors.bin format v1:
//
//	[4B magic "GLVF"][2B version LE][2B reserved]
//	[4B count LE][4B dims LE]
//	[count * dims * 4B float32 LE]
//	[4B CRC32-C of everything above]
var (
	vecMagic   = [4]byte{'G', 'L', 'V', 'F'}
	vecVersion = uint16(1)
)

const vecHeaderSize = 16
const vecTrailerSize = 4

// SaveVectors writes embeddings (one per chunk, in chunk order) as a flat
// binary file with a magic header and CRC32-C trailer.
func (s *Store) SaveVectors(vectors [][]float32) error {
	if len(vectors) == 0 {
		os.Remove(s.VectorsPath())
		return nil
	}
	dims := len(vectors[0])
	payloadSize := len(vectors) * dims * 4
	buf := make([]byte, vecHeaderSize+payloadSize+vecTrailerSize)

	copy(buf[0:4], vecMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], vecVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(vectors)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(dims))

	off := vecHeaderSize
	for _, vec := range vectors {
		if len(vec) != dims {
			return fmt.Errorf("vector dimension mismatch: want %d, got %d", dims, len(vec))
		}
		for _, v := range vec {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
			off += 4
		}
	}

	checksum := crc32.Checksum(buf[:off], crc32.MakeTable(crc32.Castagnoli))
	binary.LittleEndian.PutUint32(buf[off:off+4], checksum)

	return os.WriteFile(s.VectorsPath(), buf, 0o644)
}

// LoadVectors reads the binary vector file. Returns nil, nil when the file
// does not exist (no embeddings stored).
func (s *Store) LoadVectors() ([][]float32, error) {
	data, err := os.ReadFile(s.VectorsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) < vecHeaderSize+vecTrailerSize {
		return nil, fmt.Errorf("vectors.bin too short (%d bytes)", len(data))
	}
	if data[0] != vecMagic[0] || data[1] != vecMagic[1] ||
		data[2] != vecMagic[2] || data[3] != vecMagic[3] {
		return nil, fmt.Errorf("vectors.bin bad magic: %x", data[0:4])
	}
	ver := binary.LittleEndian.Uint16(data[4:6])
	if ver != vecVersion {
		return nil, fmt.Errorf("vectors.bin unsupported version %d", ver)
	}

	n := int(binary.LittleEndian.Uint32(data[8:12]))
	dims := int(binary.LittleEndian.Uint32(data[12:16]))
	expected := vecHeaderSize + n*dims*4 + vecTrailerSize
	if len(data) < expected {
		return nil, fmt.Errorf("vectors.bin truncated: want %d, got %d bytes", expected, len(data))
	}

	payloadEnd := vecHeaderSize + n*dims*4
	stored := binary.LittleEndian.Uint32(data[payloadEnd : payloadEnd+4])
	computed := crc32.Checksum(data[:payloadEnd], crc32.MakeTable(crc32.Castagnoli))
	if stored != computed {
		return nil, fmt.Errorf("vectors.bin checksum mismatch: stored %08x, computed %08x", stored, computed)
	}

	vectors := make([][]float32, n)
	off := vecHeaderSize
	for i := range vectors {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// VectorsPath returns the embeddings file path inside the store directory.
func (s *Store) VectorsPath() string {
	return filepath.Join(s.dir, "vectors.bin")
}
