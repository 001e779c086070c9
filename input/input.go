package input

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/hupe1980/snapcache/blobstore"
	"github.com/hupe1980/snapcache/fetch"
	"github.com/hupe1980/snapcache/headercache"
	"github.com/hupe1980/snapcache/internal/ranges"
	"github.com/hupe1980/snapcache/model"
	"github.com/hupe1980/snapcache/sharedcache"
	"github.com/hupe1980/snapcache/stats"
)

const (
	// CopyBufferSize is the chunk size for blob store to cache copies.
	CopyBufferSize = 8 * 1024

	// FooterLength is the length of a Lucene codec footer.
	FooterLength = 16

	// footerMagic is the codec footer magic value.
	footerMagic = 0xC02893E8
)

// CacheFile is the shared cache coordinator contract the input consumes.
type CacheFile interface {
	ReadIfAvailableOrPending(r ranges.Range, reader sharedcache.Reader) *sharedcache.Future
	PopulateAndRead(writeRange, readRange ranges.Range, reader sharedcache.Reader, writer sharedcache.Writer, exec *fetch.Pool) *sharedcache.Future
}

// Directory is the surface of the owning directory the input consumes.
type Directory interface {
	// RecoveryFinalized reports whether shard recovery has completed.
	// Until then reads use the smaller recovery range size to avoid
	// over-fetching.
	RecoveryFinalized() bool
}

// Config assembles the collaborators of a CachedInput.
type Config struct {
	Directory   Directory
	FileInfo    model.FileInfo
	Context     IOContext
	Stats       *stats.InputStats
	CacheFile   CacheFile
	Store       blobstore.BlobStore
	HeaderCache headercache.Cache
	// HeaderBlobSize is the header cache entry size; files up to twice
	// this size are cached whole.
	HeaderBlobSize int64
	// RangeSize is the cache population granularity after recovery.
	RangeSize int64
	// RecoveryRangeSize is the smaller granularity used during recovery.
	RecoveryRangeSize int64
	Executor          *fetch.Pool
	Logger            *slog.Logger
}

// CachedInput is a random-access reader over a (possibly sliced) view of a
// snapshot file. It is not safe for concurrent use; clones and slices are
// independent and share only the cache state and the stats sink.
type CachedInput struct {
	dir               Directory
	fileInfo          model.FileInfo
	ioContext         IOContext
	stats             *stats.InputStats
	cacheFile         CacheFile
	store             blobstore.BlobStore
	headers           headercache.Cache
	headerBlobSize    int64
	defaultRangeSize  int64
	recoveryRangeSize int64
	exec              *fetch.Pool
	logger            *slog.Logger

	desc    string
	offset  int64
	length  int64
	isClone bool

	filePointer      int64
	lastReadPosition int64
	lastSeekPosition int64
}

// New creates a top-level CachedInput over the whole file described by
// cfg.FileInfo and increments the stats open count.
func New(cfg Config) *CachedInput {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	in := &CachedInput{
		dir:               cfg.Directory,
		fileInfo:          cfg.FileInfo,
		ioContext:         cfg.Context,
		stats:             cfg.Stats,
		cacheFile:         cfg.CacheFile,
		store:             cfg.Store,
		headers:           cfg.HeaderCache,
		headerBlobSize:    cfg.HeaderBlobSize,
		defaultRangeSize:  cfg.RangeSize,
		recoveryRangeSize: cfg.RecoveryRangeSize,
		exec:              cfg.Executor,
		logger:            logger,
		desc:              "CachedInput(" + cfg.FileInfo.PhysicalName + ")",
		offset:            0,
		length:            cfg.FileInfo.Length,
	}
	in.lastReadPosition = in.offset
	in.lastSeekPosition = in.offset
	in.stats.IncrementOpenCount()
	return in
}

// Length returns the length of this view of the file.
func (i *CachedInput) Length() int64 {
	return i.length
}

// FilePointer returns the current position within this view.
func (i *CachedInput) FilePointer() int64 {
	return i.filePointer
}

// Close releases the input. It is idempotent and releases no cache state;
// cache lifetimes are owned externally.
func (i *CachedInput) Close() error {
	return nil
}

// Seek sets the position within [0, Length()].
func (i *CachedInput) Seek(pos int64) error {
	if pos > i.length {
		return fmt.Errorf("input: seeking past end of %s [position=%d, length=%d]: %w", i.desc, pos, i.length, io.EOF)
	}
	if pos < 0 {
		return fmt.Errorf("%w [position=%d] for %s", ErrInvalidSeek, pos, i.desc)
	}
	position := pos + i.offset
	i.stats.IncrementSeeks(i.lastSeekPosition, position)
	i.lastSeekPosition = position
	i.filePointer = pos
	return nil
}

// Slice returns a narrowed view [offset, offset+length) of this input with
// an independent cursor. The slice shares the cache state and stats sink.
func (i *CachedInput) Slice(desc string, offset, length int64) (*CachedInput, error) {
	if offset < 0 || length < 0 || offset+length > i.length {
		return nil, fmt.Errorf("%w: %s offset=%d length=%d fileLength=%d", ErrInvalidSlice, desc, offset, length, i.length)
	}
	child := *i
	child.desc = i.desc + " [slice=" + desc + "]"
	child.offset = i.offset + offset
	child.length = length
	child.isClone = true
	child.filePointer = 0
	child.lastReadPosition = child.offset
	child.lastSeekPosition = child.offset
	return &child, nil
}

// Clone returns a copy of this input that preserves the current position.
func (i *CachedInput) Clone() *CachedInput {
	child := *i
	child.isClone = true
	return &child
}

// Read fills p completely starting at the current position and advances the
// position by len(p). It either fills the whole buffer or returns an error.
func (i *CachedInput) Read(ctx context.Context, p []byte) error {
	if i.ioContext == ContextWarming {
		return fmt.Errorf("%w: cannot read %s with a warming context", ErrInvalidContext, i.desc)
	}
	length := int64(len(p))
	if length == 0 {
		return nil
	}
	if i.filePointer+length > i.length {
		return fmt.Errorf("input: reading past end of %s [position=%d, length=%d]: %w", i.desc, i.filePointer, i.length, io.EOF)
	}
	position := i.filePointer + i.offset

	// Reads of the last 16 bytes are footer reads issued when a directory
	// is opened. The checksum from the snapshot metadata lets us answer
	// them without touching any cache or the blob store.
	if length == FooterLength && !i.isClone && position == i.fileInfo.Length-FooterLength {
		if i.readChecksumFooter(p) {
			i.logger.Debug("read footer from metadata", "file", i.fileInfo.PhysicalName, "position", position)
			i.filePointer += length
			return nil
		}
	}

	st := &readState{buf: p}
	err := i.readFromCaches(ctx, position, st)
	if err != nil {
		if !errors.Is(err, sharedcache.ErrEvicted) {
			return &ReadFailedError{cause: err}
		}
		// The region went away mid-read. Whatever prefix already landed
		// in p stays; fetch the tail straight from the blob store.
		already := st.delivered
		if derr := i.readDirectly(ctx, position+already, p[already:]); derr != nil {
			return &ReadFailedError{cause: errors.Join(err, derr)}
		}
	}

	i.stats.IncrementBytesRead(i.lastReadPosition, position, length)
	i.lastReadPosition = position + length
	i.lastSeekPosition = i.lastReadPosition
	i.filePointer += length
	return nil
}

// readState tracks how much of the destination buffer has been filled, so
// the eviction fallback reads exactly the missing tail.
type readState struct {
	buf       []byte
	delivered int64
}

// readFromCaches runs the cache read path: the resident fast path, the
// header cache and finally blob store population.
func (i *CachedInput) readFromCaches(ctx context.Context, position int64, st *readState) error {
	length := int64(len(st.buf))
	readRange := ranges.New(position, position+length)

	// Can we serve the read from disk? If so, do so and don't worry about
	// anything else.

	if fut := i.cacheFile.ReadIfAvailableOrPending(readRange, func(ch sharedcache.Channel, channelPos, relativePos, l int64) (int64, error) {
		return i.readCacheRange(ch, channelPos, relativePos, l, st)
	}); fut != nil {
		n, err := fut.Wait(ctx)
		if err != nil {
			return err
		}
		if n != length {
			return fmt.Errorf("input: short cache read of %s: %d vs %d", i.desc, n, length)
		}
		return nil
	}

	// Requested data is not on disk, so try the header cache next.

	indexCacheMiss := ranges.None

	canBeFullyCached := i.fileInfo.Length <= 2*i.headerBlobSize
	isStartOfFile := position+length <= i.headerBlobSize

	if canBeFullyCached || isStartOfFile {
		blob := i.headers.Lookup(ctx, i.fileInfo.PhysicalName, 0, length)
		if blob.Covers(position, position+length) {
			i.logger.Debug("reading from header cache", "file", i.fileInfo.PhysicalName, "position", position, "length", length)
			i.stats.AddIndexCacheBytesRead(blob.Length())
			copy(st.buf, blob.Bytes[position-blob.From:position-blob.From+length])
			st.delivered = length
			i.backfillFromHeaderBlob(blob)
			return nil
		}
		// A miss, or an entry too short for this read. Either way the
		// shared cache will be populated below, so remember the region we
		// want indexed the next time. The fill also runs for NotReady:
		// the cache index is only created on the first put.
		if canBeFullyCached {
			indexCacheMiss = ranges.New(0, i.fileInfo.Length)
		} else {
			indexCacheMiss = ranges.New(0, i.headerBlobSize)
		}
	}

	// Visit the blob store to satisfy both the target range and any miss
	// in the header cache.

	rangeSize := i.rangeSize()
	startRange := ranges.Aligned(position, rangeSize, i.fileInfo.Length)
	endRange := ranges.Aligned(position+length-1, rangeSize, i.fileInfo.Length)
	writeRange := ranges.Union(ranges.Union(startRange, endRange), indexCacheMiss)
	if !writeRange.Contains(readRange) {
		return fmt.Errorf("input: computed write range %s does not cover read range %s", writeRange, readRange)
	}

	fut := i.cacheFile.PopulateAndRead(writeRange, readRange, func(ch sharedcache.Channel, channelPos, relativePos, l int64) (int64, error) {
		return i.readCacheRange(ch, channelPos, relativePos, l, st)
	}, func(ctx context.Context, tok *fetch.Token, ch sharedcache.Channel, channelPos, relativePos, l int64, progress func(int64)) error {
		return i.writeCacheRange(ctx, tok, ch, channelPos, relativePos, l, writeRange.From, progress)
	}, i.exec)

	if !indexCacheMiss.IsEmpty() {
		i.fillHeaderCache(ctx, indexCacheMiss)
	}

	n, err := fut.Wait(ctx)
	if err != nil {
		return err
	}
	if n != length {
		return fmt.Errorf("input: short cache read of %s: %d vs %d", i.desc, n, length)
	}
	return nil
}

// readCacheRange copies length bytes of the requested range from the cache
// channel into the read buffer.
func (i *CachedInput) readCacheRange(ch sharedcache.Channel, channelPos, relativePos, length int64, st *readState) (int64, error) {
	if length == 0 {
		return 0, nil
	}
	dst := st.buf[relativePos : relativePos+length]
	n, err := ch.ReadAt(dst, channelPos)
	if n > 0 && relativePos+int64(n) > st.delivered {
		st.delivered = relativePos + int64(n)
	}
	if err != nil {
		return int64(n), err
	}
	i.stats.AddCachedBytesRead(int64(n))
	return int64(n), nil
}

// writeCacheRange streams [relativePos, relativePos+length) of the declared
// write range from the blob store into the cache channel, reporting
// progress after every chunk.
func (i *CachedInput) writeCacheRange(ctx context.Context, tok *fetch.Token, ch sharedcache.Channel, channelPos, relativePos, length, logicalPos int64, progress func(int64)) error {
	in, err := i.openBlobStream(ctx, logicalPos+relativePos, length)
	if err != nil {
		return err
	}
	defer in.Close()

	i.logger.Debug("writing range to cache", "file", i.fileInfo.PhysicalName, "from", relativePos, "to", relativePos+length)

	copyBuffer := make([]byte, min(CopyBufferSize, length))
	var copied int64
	remaining := length
	start := time.Now()
	for remaining > 0 {
		n, err := readSafe(in, copyBuffer, relativePos, relativePos+length, remaining)
		if err != nil {
			return err
		}
		if _, err := ch.WriteAt(tok, copyBuffer[:n], channelPos+copied); err != nil {
			return err
		}
		copied += int64(n)
		remaining -= int64(n)
		progress(copied)
	}
	i.stats.AddCachedBytesWritten(copied, time.Since(start))
	return nil
}

// backfillFromHeaderBlob asynchronously copies a header cache hit into the
// shared cache so later reads take the disk fast path. Failures are logged
// and swallowed; the bytes were already delivered to the caller.
func (i *CachedInput) backfillFromHeaderBlob(blob headercache.CachedBlob) {
	cachedRange := ranges.New(blob.From, blob.To)
	fut := i.cacheFile.PopulateAndRead(cachedRange, cachedRange,
		func(ch sharedcache.Channel, channelPos, relativePos, l int64) (int64, error) {
			return blob.Length(), nil
		},
		func(ctx context.Context, tok *fetch.Token, ch sharedcache.Channel, channelPos, relativePos, l int64, progress func(int64)) error {
			start := time.Now()
			var copied int64
			for copied < l {
				chunk := min(CopyBufferSize, l-copied)
				n, err := ch.WriteAt(tok, blob.Bytes[relativePos+copied:relativePos+copied+chunk], channelPos+copied)
				if err != nil {
					return err
				}
				copied += int64(n)
				progress(copied)
			}
			i.stats.AddCachedBytesWritten(copied, time.Since(start))
			return nil
		}, i.exec)

	go func() {
		if _, err := fut.Wait(context.Background()); err != nil {
			i.logger.Debug("failed to store header cache bytes in shared cache",
				"file", i.fileInfo.PhysicalName, "from", blob.From, "to", blob.To, "error", err)
		}
	}()
}

// fillHeaderCache arranges for the given miss range to be stored in the
// header cache once the in-flight population makes it readable.
func (i *CachedInput) fillHeaderCache(ctx context.Context, miss ranges.Range) {
	finish := i.stats.StartIndexCacheFill()
	putCtx := context.WithoutCancel(ctx)

	fut := i.cacheFile.ReadIfAvailableOrPending(miss, func(ch sharedcache.Channel, channelPos, relativePos, l int64) (int64, error) {
		// Read through the channel rather than readCacheRange so the copy
		// does not count as bytes served to the caller.
		buf := make([]byte, l)
		if _, err := ch.ReadAt(buf, channelPos); err != nil {
			finish()
			return 0, err
		}
		i.headers.Put(putCtx, i.fileInfo.PhysicalName, miss.From, buf, func(error) {
			finish()
		})
		return l, nil
	})

	if fut == nil {
		// The covering populate already failed to claim this range;
		// nothing to index this time around.
		finish()
		return
	}
	go func() {
		if _, err := fut.Wait(context.Background()); err != nil {
			finish()
			i.logger.Debug("header cache fill failed", "file", i.fileInfo.PhysicalName, "range", miss, "error", err)
		}
	}()
}

// readDirectly reads [position, position+len(dst)) straight from the blob
// store, bypassing the evicted cache region.
func (i *CachedInput) readDirectly(ctx context.Context, position int64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	length := int64(len(dst))
	i.logger.Debug("direct reading after eviction", "file", i.fileInfo.PhysicalName, "from", position, "to", position+length)

	in, err := i.openBlobStream(ctx, position, length)
	if err != nil {
		return err
	}
	defer in.Close()

	copyBuffer := make([]byte, min(CopyBufferSize, length))
	var copied int64
	start := time.Now()
	for copied < length {
		n, err := readSafe(in, copyBuffer, position, position+length, length-copied)
		if err != nil {
			return err
		}
		copy(dst[copied:], copyBuffer[:n])
		copied += int64(n)
	}
	i.stats.AddDirectBytesRead(copied, time.Since(start))
	return nil
}

// openBlobStream opens a stream over [position, position+length) of the
// logical file, stitching ranged part reads when the range spans parts.
func (i *CachedInput) openBlobStream(ctx context.Context, position, length int64) (io.ReadCloser, error) {
	fi := i.fileInfo
	if fi.NumberOfParts() == 1 {
		i.stats.AddBlobStoreBytesRequested(length)
		return i.store.ReadBlob(ctx, fi.PartName(0), position, length)
	}

	startPart, err := fi.PartForPosition(position)
	if err != nil {
		return nil, err
	}
	endPart, err := fi.PartForPosition(position + length - 1)
	if err != nil {
		return nil, err
	}

	slices := make([]blobstore.Slice, 0, endPart-startPart+1)
	for part := startPart; part <= endPart; part++ {
		startInPart := int64(0)
		if part == startPart {
			startInPart, _ = fi.PositionInPart(position)
		}
		endInPart := fi.PartLength(part)
		if part == endPart {
			lastInPart, _ := fi.PositionInPart(position + length - 1)
			endInPart = lastInPart + 1
		}
		i.stats.AddBlobStoreBytesRequested(endInPart - startInPart)
		slices = append(slices, blobstore.Slice{Name: fi.PartName(part), Offset: startInPart, Length: endInPart - startInPart})
	}
	return blobstore.NewSlicedReader(ctx, i.store, slices), nil
}

// readSafe performs a single read into copyBuffer, turning a premature EOF
// into io.ErrUnexpectedEOF. It returns the number of bytes read, always
// positive on success.
func readSafe(in io.Reader, copyBuffer []byte, rangeStart, rangeEnd, remaining int64) (int, error) {
	l := int64(len(copyBuffer))
	if remaining < l {
		l = remaining
	}
	n, err := in.Read(copyBuffer[:l])
	if n > 0 {
		return n, nil
	}
	if err == nil || err == io.EOF {
		return 0, fmt.Errorf("input: unexpected EOF reading [%d-%d) (%d bytes remaining): %w", rangeStart, rangeEnd, remaining, io.ErrUnexpectedEOF)
	}
	return 0, err
}

// rangeSize returns the cache population granularity for this read.
func (i *CachedInput) rangeSize() int64 {
	if i.ioContext == ContextWarming {
		return i.fileInfo.PartSize
	}
	if i.dir.RecoveryFinalized() {
		return i.defaultRangeSize
	}
	return i.recoveryRangeSize
}

// readChecksumFooter synthesizes the codec footer from the checksum in the
// snapshot metadata. It reports false when the checksum does not parse, in
// which case the read proceeds through the normal path.
func (i *CachedInput) readChecksumFooter(p []byte) bool {
	checksum, err := strconv.ParseInt(i.fileInfo.Checksum, 36, 64)
	if err != nil || checksum < 0 {
		return false
	}
	binary.BigEndian.PutUint32(p[0:], footerMagic)
	binary.BigEndian.PutUint32(p[4:], 0)
	binary.BigEndian.PutUint64(p[8:], uint64(checksum))
	return true
}

func (i *CachedInput) String() string {
	return fmt.Sprintf("%s{offset=%d, length=%d, position=%d}", i.desc, i.offset, i.length, i.filePointer)
}
