package ann

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fileHeader precedes the raw vector blob in a saved index file: enough to
// reconstruct metadata and the forest without touching the (potentially
// large) vector data itself.
type fileHeader struct {
	Cfg        Config
	Generation uint64
	Metadata   []Metadata
}

// wordAlign rounds n up to the next multiple of 4, so the float32 blob that
// follows the header always starts on a properly aligned offset for the
// unsafe cast in Load.
func wordAlign(n int) int {
	return (n + 3) &^ 3
}

// Save persists the committed vectors and metadata to path as a single
// memory-mappable file: an 8-byte big-endian header length, the gob-encoded
// fileHeader padded to a 4-byte boundary, then the raw little-endian
// float32 vector blob in committed order. The write goes to a temp file and
// is renamed into place so a crash mid-write never corrupts the prior
// checkpoint (spec.md §6.2).
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	meta := make([]Metadata, len(idx.committed))
	vectors := make([][]float32, len(idx.committed))
	for i, r := range idx.committed {
		meta[i] = r.meta
		vectors[i] = r.vector
	}
	cfg, generation := idx.cfg, idx.generation
	idx.mu.RUnlock()

	var hbuf bytes.Buffer
	if err := gob.NewEncoder(&hbuf).Encode(fileHeader{Cfg: cfg, Generation: generation, Metadata: meta}); err != nil {
		return fmt.Errorf("ann: encode header: %w", err)
	}
	padded := wordAlign(hbuf.Len())

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("ann: create: %w", err)
	}

	var lenPrefix [8]byte
	binary.BigEndian.PutUint64(lenPrefix[:], uint64(padded))
	if _, err := f.Write(lenPrefix[:]); err != nil {
		f.Close()
		return fmt.Errorf("ann: write header length: %w", err)
	}
	if _, err := f.Write(hbuf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("ann: write header: %w", err)
	}
	if pad := padded - hbuf.Len(); pad > 0 {
		if _, err := f.Write(make([]byte, pad)); err != nil {
			f.Close()
			return fmt.Errorf("ann: write header padding: %w", err)
		}
	}
	for _, v := range vectors {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			f.Close()
			return fmt.Errorf("ann: write vectors: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("ann: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ann: close: %w", err)
	}
	return os.Rename(tmp, path)
}

// metaDocument is the JSON shape of the ann.meta sidecar (spec.md §6.2):
// a human-readable, greppable companion to the binary ann.index checkpoint,
// naming the generation and fingerprint set it represents without requiring
// a gob decode.
type metaDocument struct {
	Generation   uint64   `json:"generation"`
	Fingerprints []string `json:"fingerprints"`
}

// WriteMeta writes the ann.meta sidecar document alongside the binary
// index checkpoint written by Save: the current generation and the list of
// fingerprints committed as of the last Build, per spec.md §6.2. It is
// written via a temp-file rename for the same crash-safety reason as Save,
// and at 0600 per spec.md §6.2's file-permission rule.
func (idx *Index) WriteMeta(path string) error {
	idx.mu.RLock()
	fps := make([]string, len(idx.committed))
	for i, r := range idx.committed {
		fps[i] = r.meta.Fingerprint
	}
	doc := metaDocument{Generation: idx.generation, Fingerprints: fps}
	idx.mu.RUnlock()

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ann: encode meta: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("ann: write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ann: rename meta: %w", err)
	}
	return nil
}

// Load mmaps path read-only and reconstructs a queryable Index over it. The
// vector blob stays in the OS page cache rather than being copied into the
// process heap, so resident memory tracks the working set actually touched
// by queries (spec.md §4.E).
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ann: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("ann: stat: %w", err)
	}
	if info.Size() < 8 {
		return nil, fmt.Errorf("ann: truncated index file")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ann: mmap: %w", err)
	}

	idx, err := decodeMapped(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	idx.mapped = data
	return idx, nil
}

func decodeMapped(data []byte) (*Index, error) {
	hlen := binary.BigEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+hlen {
		return nil, fmt.Errorf("ann: truncated header")
	}

	var h fileHeader
	if err := gob.NewDecoder(bytes.NewReader(data[8 : 8+hlen])).Decode(&h); err != nil {
		return nil, fmt.Errorf("ann: decode header: %w", err)
	}

	vectorBlob := mappedFloat32s(data[8+hlen:])
	if h.Cfg.Dim > 0 && len(vectorBlob) < len(h.Metadata)*h.Cfg.Dim {
		return nil, fmt.Errorf("ann: vector blob shorter than metadata implies")
	}

	committed := make([]record, len(h.Metadata))
	byFingerprint := make(map[string]int, len(h.Metadata))
	for i, m := range h.Metadata {
		off := i * h.Cfg.Dim
		committed[i] = record{vector: vectorBlob[off : off+h.Cfg.Dim], meta: m}
		byFingerprint[m.Fingerprint] = i
	}

	idx := &Index{
		cfg:           h.Cfg,
		committed:     committed,
		byFingerprint: byFingerprint,
		generation:    h.Generation,
		built:         len(committed) > 0,
	}
	if idx.built {
		idx.trees = buildForest(idx.committed, idx.cfg.Trees)
	}
	return idx, nil
}

// mappedFloat32s reinterprets a byte slice backed by mmap as a []float32
// without copying. b is word-aligned by construction (Save pads the header
// to a 4-byte boundary), so the cast is safe on every architecture Go
// supports.
func mappedFloat32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Close unmaps the backing file opened by Load. It is a no-op for an Index
// built in memory (New) or never loaded from disk.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.mapped == nil {
		return nil
	}
	err := unix.Munmap(idx.mapped)
	idx.mapped = nil
	return err
}
