// Package diskqueue implements the segmented, crash-tolerant append-only
// queue that backs a topic or channel once its in-memory buffer is full.
// Layout and recovery semantics are grounded on the reference disk_queue
// implementation: fixed-size data segments named "<name>.diskqueue.<num>.dat",
// a metadata file "<name>.diskqueue.meta.dat" holding depth and read/write
// cursors, and a record format of a 4-byte big-endian length prefix
// followed by the raw payload.
package diskqueue

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMaxBytesPerFile caps a single segment before rotation.
const DefaultMaxBytesPerFile = 100 * 1024 * 1024

// Options configures a Queue.
type Options struct {
	Name            string
	DataPath        string
	MaxBytesPerFile int64
	MinMsgSize      int32
	MaxMsgSize      int32
	SyncEvery       int64 // fsync after this many writes
	Logger          *zap.Logger
}

func (o *Options) setDefaults() {
	if o.MaxBytesPerFile <= 0 {
		o.MaxBytesPerFile = DefaultMaxBytesPerFile
	}
	if o.MaxMsgSize <= 0 {
		o.MaxMsgSize = 1024 * 1024
	}
	if o.SyncEvery <= 0 {
		o.SyncEvery = 2500
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Queue is a single named, ordered, on-disk message queue. All exported
// methods are safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	name     string
	dataPath string
	maxBytes int64
	minMsg   int32
	maxMsg   int32
	syncEvery int64

	log *zap.Logger

	// persisted cursor state
	depth        int64
	readPos      int64
	writePos     int64
	readFileNum  int64
	writeFileNum int64

	// copy of the read cursor taken when metadata is loaded; Get advances
	// readPos/readFileNum directly.
	nextReadPos     int64
	nextReadFileNum int64

	writeFile *os.File
	reader    *bufio.Reader
	readFile  *os.File

	// readFileSize is the on-disk size of the segment currently open for
	// reading, captured when it's opened and refreshed on each Get while
	// readFileNum < writeFileNum. Only meaningful when
	// readFileNum < writeFileNum (a completed segment): that's the only
	// time it's safe to use disk size rather than maxBytes to decide the
	// read cursor has reached the end of the segment, since a segment
	// rotates once its writer's next record would *exceed* maxBytes, not
	// once it reaches exactly maxBytes.
	readFileSize int64

	writesSinceSync int64

	exitFlag bool
}

// Open opens or creates the named queue under opts.DataPath, replaying its
// metadata file and recovering from any partially-written trailing record.
func Open(opts Options) (*Queue, error) {
	opts.setDefaults()
	if opts.Name == "" {
		return nil, errors.New("diskqueue: name required")
	}
	q := &Queue{
		name:      opts.Name,
		dataPath:  opts.DataPath,
		maxBytes:  opts.MaxBytesPerFile,
		minMsg:    opts.MinMsgSize,
		maxMsg:    opts.MaxMsgSize,
		syncEvery: opts.SyncEvery,
		log:       opts.Logger.With(zap.String("diskqueue", opts.Name)),
	}
	if err := os.MkdirAll(q.dataPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "diskqueue: mkdir data path")
	}
	if err := q.loadMetadata(); err != nil {
		return nil, err
	}
	if err := q.recoverPartialWrite(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) metaFileName() string {
	return filepath.Join(q.dataPath, fmt.Sprintf("%s.diskqueue.meta.dat", q.name))
}

func (q *Queue) segmentFileName(fileNum int64) string {
	return filepath.Join(q.dataPath, fmt.Sprintf("%s.diskqueue.%06d.dat", q.name, fileNum))
}

// loadMetadata reads the text metadata file per the on-disk format:
//
//	depth
//	read_pos,read_file_num
//	write_pos,write_file_num
//
// A missing file means a fresh queue; any other read error is surfaced.
func (q *Queue) loadMetadata() error {
	f, err := os.Open(q.metaFileName())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "diskqueue: open metadata")
	}
	defer f.Close()

	var depth, readPos, readFileNum, writePos, writeFileNum int64
	_, err = fmt.Fscanf(f, "%d\n%d,%d\n%d,%d\n",
		&depth, &readPos, &readFileNum, &writePos, &writeFileNum)
	if err != nil {
		return errors.Wrap(err, "diskqueue: parse metadata")
	}
	q.depth = depth
	q.readPos, q.readFileNum = readPos, readFileNum
	q.writePos, q.writeFileNum = writePos, writeFileNum
	q.nextReadPos, q.nextReadFileNum = readPos, readFileNum
	return nil
}

func (q *Queue) saveMetadata() error {
	tmp := q.metaFileName() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "diskqueue: create metadata tmp")
	}
	_, err = fmt.Fprintf(f, "%d\n%d,%d\n%d,%d\n",
		q.depth, q.readPos, q.readFileNum, q.writePos, q.writeFileNum)
	if err != nil {
		f.Close()
		return errors.Wrap(err, "diskqueue: write metadata")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "diskqueue: sync metadata")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "diskqueue: close metadata")
	}
	return os.Rename(tmp, q.metaFileName())
}

// recoverPartialWrite truncates the write segment to the last valid
// record boundary at or before writePos, in case the process crashed
// mid-append. This is the chosen recovery policy: discard any trailing
// bytes that don't form a complete, length-prefixed record rather than
// attempting partial-record reconstruction.
func (q *Queue) recoverPartialWrite() error {
	name := q.segmentFileName(q.writeFileNum)
	info, err := os.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "diskqueue: stat write segment")
	}
	if info.Size() <= q.writePos {
		return nil
	}
	q.log.Warn("truncating write segment to last committed record",
		zap.Int64("file", q.writeFileNum),
		zap.Int64("on-disk-size", info.Size()),
		zap.Int64("committed-pos", q.writePos))
	f, err := os.OpenFile(name, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "diskqueue: open write segment for truncation")
	}
	defer f.Close()
	if err := f.Truncate(q.writePos); err != nil {
		return errors.Wrap(err, "diskqueue: truncate write segment")
	}
	return nil
}

// Depth returns the number of messages not yet consumed.
func (q *Queue) Depth() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Put appends data as one record to the write segment, rotating to a new
// segment file if the current one would exceed MaxBytesPerFile.
func (q *Queue) Put(data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.exitFlag {
		return errors.New("diskqueue: exiting")
	}
	return q.writeOne(data)
}

func (q *Queue) writeOne(data []byte) error {
	dataLen := int32(len(data))
	if dataLen < q.minMsg || dataLen > q.maxMsg {
		return fmt.Errorf("diskqueue: invalid message size %d", dataLen)
	}

	if q.writeFile == nil {
		f, err := os.OpenFile(q.segmentFileName(q.writeFileNum), os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return errors.Wrap(err, "diskqueue: open write segment")
		}
		if _, err := f.Seek(q.writePos, io.SeekStart); err != nil {
			f.Close()
			return errors.Wrap(err, "diskqueue: seek write segment")
		}
		q.writeFile = f
	}

	totalLen := int64(4 + dataLen)
	if q.writePos > 0 && q.writePos+totalLen > q.maxBytes {
		if err := q.rotateWriteFile(); err != nil {
			return err
		}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(dataLen))
	if _, err := q.writeFile.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "diskqueue: write length prefix")
	}
	if _, err := q.writeFile.Write(data); err != nil {
		return errors.Wrap(err, "diskqueue: write payload")
	}

	q.writePos += totalLen
	q.depth++
	q.writesSinceSync++

	if q.writesSinceSync >= q.syncEvery {
		if err := q.sync(); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) rotateWriteFile() error {
	if err := q.writeFile.Sync(); err != nil {
		return errors.Wrap(err, "diskqueue: sync before rotate")
	}
	if err := q.writeFile.Close(); err != nil {
		return errors.Wrap(err, "diskqueue: close before rotate")
	}
	q.writeFile = nil
	q.writeFileNum++
	q.writePos = 0

	f, err := os.OpenFile(q.segmentFileName(q.writeFileNum), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "diskqueue: create rotated segment")
	}
	q.writeFile = f
	return q.saveMetadata()
}

// sync flushes the write file and persists metadata, then prunes any
// fully-consumed segments.
func (q *Queue) sync() error {
	if q.writeFile != nil {
		if err := q.writeFile.Sync(); err != nil {
			return errors.Wrap(err, "diskqueue: sync write segment")
		}
	}
	q.writesSinceSync = 0
	if err := q.saveMetadata(); err != nil {
		return err
	}
	q.pruneConsumedSegments()
	return nil
}

// Sync forces an fsync and metadata persist outside the normal
// SyncEvery-triggered cadence.
func (q *Queue) Sync() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sync()
}

// pruneConsumedSegments removes segment files strictly older than the
// current read segment: once every record in a segment has been
// consumed, nothing will ever seek back into it. Called from sync, after
// metadata has been persisted.
func (q *Queue) pruneConsumedSegments() {
	for fileNum := q.readFileNum - 1; fileNum >= 0; fileNum-- {
		name := q.segmentFileName(fileNum)
		if _, err := os.Stat(name); err != nil {
			break
		}
		if err := os.Remove(name); err != nil {
			q.log.Warn("failed to prune consumed segment", zap.String("file", name), zap.Error(err))
			break
		}
	}
}

// Get reads and returns the next record, advancing the read cursor.
// Returns io.EOF when the read cursor has caught up to the write cursor.
func (q *Queue) Get() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.exitFlag {
		return nil, errors.New("diskqueue: exiting")
	}
	// Once the writer has rotated past the read segment it is complete;
	// refresh its size and move on when the cursor has reached its end.
	if q.readFileNum < q.writeFileNum {
		if info, err := os.Stat(q.segmentFileName(q.readFileNum)); err == nil {
			q.readFileSize = info.Size()
		}
		if q.readPos >= q.readFileSize {
			if q.readFile != nil {
				q.readFile.Close()
			}
			q.readFile, q.reader = nil, nil
			q.readFileNum++
			q.readPos = 0
		}
	}
	if q.readFileNum == q.writeFileNum && q.readPos == q.writePos {
		return nil, io.EOF
	}

	if q.reader == nil {
		if err := q.openReadFile(); err != nil {
			return nil, err
		}
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(q.reader, lenBuf[:]); err != nil {
		return nil, q.handleReadError(err)
	}
	dataLen := binary.BigEndian.Uint32(lenBuf[:])
	if int32(dataLen) < q.minMsg || int32(dataLen) > q.maxMsg {
		return nil, fmt.Errorf("diskqueue: corrupt record length %d at file %d pos %d", dataLen, q.readFileNum, q.readPos)
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(q.reader, data); err != nil {
		return nil, q.handleReadError(err)
	}

	q.readPos += int64(4 + dataLen)
	q.depth--

	if q.readFileNum < q.writeFileNum && q.readPos >= q.readFileSize {
		q.readFile.Close()
		q.readFile = nil
		q.reader = nil
		q.readFileNum++
		q.readPos = 0
	}
	return data, nil
}

func (q *Queue) openReadFile() error {
	name := q.segmentFileName(q.readFileNum)
	info, err := os.Stat(name)
	if err != nil {
		return errors.Wrap(err, "diskqueue: stat read segment")
	}
	f, err := os.Open(name)
	if err != nil {
		return errors.Wrap(err, "diskqueue: open read segment")
	}
	if _, err := f.Seek(q.readPos, io.SeekStart); err != nil {
		f.Close()
		return errors.Wrap(err, "diskqueue: seek read segment")
	}
	q.readFile = f
	q.reader = bufio.NewReader(f)
	q.readFileSize = info.Size()
	return nil
}

// handleReadError reports unexpected read failures as disk errors; a
// corrupt trailing record within a non-final segment is unrecoverable
// for the remainder of that segment, so the caller should treat this as
// fatal for this Get call but the queue remains usable for later
// segments.
func (q *Queue) handleReadError(err error) error {
	return errors.Wrapf(err, "diskqueue: read error at file %d pos %d", q.readFileNum, q.readPos)
}

// Close flushes and releases file handles. The queue must not be used
// after Close.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exitFlag = true

	var result *multierror.Error
	if q.writeFile != nil {
		if err := q.writeFile.Sync(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := q.writeFile.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if q.readFile != nil {
		if err := q.readFile.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := q.saveMetadata(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Delete removes all segment and metadata files belonging to this queue
// and releases its handles, for use when a topic or channel is deleted
// outright rather than merely closed.
func (q *Queue) Delete() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exitFlag = true
	if q.writeFile != nil {
		q.writeFile.Close()
	}
	if q.readFile != nil {
		q.readFile.Close()
	}
	for fileNum := int64(0); fileNum <= q.writeFileNum; fileNum++ {
		_ = os.Remove(q.segmentFileName(fileNum))
	}
	if err := os.Remove(q.metaFileName()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CommitReadPosition persists the current cursors, including the read
// cursor as already advanced by Get, to the metadata file.
func (q *Queue) CommitReadPosition() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saveMetadata()
}
