// Package file persists submissions in an append-only journal file so
// that a client restart can re-attach to jobs still running on Batch.
//
// The file starts with a crc32 of everything ever appended and a
// skip-ahead pointer past the records already ejected; each record is
// length-framed. A file failing the checksum on open is renamed aside
// and a fresh journal is started.
package file

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"

	"github.com/fbrundu/batchmast"
)

var ErrInvalidFile = errors.New("journal file failed validation")

const (
	crc32HashOffset int64 = 0
	crc32HashSize   int64 = 4
	skipAheadOffset       = crc32HashOffset + crc32HashSize
	skipAheadSize   int64 = 8
	dataOffset            = skipAheadOffset + skipAheadSize
	headSize              = crc32HashSize + skipAheadSize
	metaElementSize       = 2
)

func NewJournal(file *os.File) (*Journal, error) {
	return (&Journal{
		file:  file,
		order: binary.BigEndian,
		sum:   crc32.NewIEEE(),
	}).checkFile()
}

type Journal struct {
	file  *os.File
	order binary.ByteOrder
	mx    sync.Mutex

	sum   hash.Hash32
	count int
	mw    io.Writer
}

func (f *Journal) Len() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.count
}

func (f *Journal) checkFile() (*Journal, error) {
	f.mw = io.MultiWriter(f.file, f.sum)

	_, err := f.file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headSize)
	crc32SumBuf := buf[0:crc32HashSize]
	skipAheadBuf := buf[crc32HashSize : crc32HashSize+skipAheadSize]

	n, err := f.file.Read(buf[0:headSize])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			headBuf := buf[0 : crc32HashSize+skipAheadSize]
			f.order.PutUint32(crc32SumBuf, 0)
			f.order.PutUint64(skipAheadBuf, uint64(dataOffset))
			_, err := f.file.Write(headBuf)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
		return nil, err
	}

	fileSum := f.order.Uint32(crc32SumBuf)
	skipAhead := int64(f.order.Uint64(skipAheadBuf))
	currOffset := dataOffset

	_, err = f.file.Seek(dataOffset, io.SeekStart)
	if err != nil {
		return nil, err
	}

	tr := io.TeeReader(f.file, f.sum)

	for {
		size, err := f.readMeta(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		currOffset += metaElementSize

		if size > math.MaxUint16 {
			return nil, ErrInvalidFile
		}

		if len(buf) < size {
			buf = make([]byte, size)
		}

		_, err = tr.Read(buf[:size])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrInvalidFile
			}
			return nil, err
		}

		currOffset += int64(size)

		if currOffset > skipAhead {
			f.count++
		}
	}

	if f.sum.Sum32() != fileSum {
		return nil, ErrInvalidFile
	}

	return f, nil
}

func (f *Journal) readMeta(bs []byte) (size int, err error) {
	metaElementBuf := bs[0:metaElementSize]

	_, err = f.file.Read(metaElementBuf)
	if err != nil {
		return 0, err
	}

	size = int(f.order.Uint16(metaElementBuf))

	return size, err
}

func (f *Journal) writeMeta(bs []byte, size int) error {
	metaElementBuf := bs[0:metaElementSize]

	f.order.PutUint16(metaElementBuf, uint16(size))

	_, err := f.file.Write(metaElementBuf)
	if err != nil {
		return err
	}

	return nil
}

func (f *Journal) updateSum(bs []byte) error {
	crc32SumBuf := bs[0:crc32HashSize]

	f.order.PutUint32(crc32SumBuf, f.sum.Sum32())
	_, err := f.file.WriteAt(crc32SumBuf, crc32HashOffset)
	if err != nil {
		return err
	}

	return nil
}

func (f *Journal) Push(sub batchmast.Submission) error {
	data, err := sub.MarshalBinary()
	if err != nil {
		return err
	}

	size := len(data)

	if size > math.MaxUint16 {
		return fmt.Errorf("submission too large: %d over %d", size, math.MaxUint16)
	}

	bs := bsPool.Get().([]byte)
	defer bsPool.Put(bs)

	f.mx.Lock()
	defer f.mx.Unlock()

	err = f.writeMeta(bs, size)
	if err != nil {
		return err
	}

	_, err = f.mw.Write(data)
	if err != nil {
		return err
	}

	f.count++

	err = f.updateSum(bs)
	if err != nil {
		return err
	}

	return nil
}

func (f *Journal) Eject(limit int) (subs []batchmast.Submission, err error) {
	f.mx.Lock()
	defer f.mx.Unlock()

	if limit > f.count {
		limit = f.count
	}

	if limit < 0 {
		limit = f.count
	}

	if limit == 0 {
		return nil, nil
	}

	subs = make([]batchmast.Submission, 0, limit)

	buf := make([]byte, headSize)
	skipAheadBuf := buf[0:skipAheadSize]

	_, err = f.file.ReadAt(skipAheadBuf, skipAheadOffset)
	if err != nil {
		return nil, err
	}

	skipAhead := int64(f.order.Uint64(skipAheadBuf))

	_, err = f.file.Seek(skipAhead, io.SeekStart)
	if err != nil {
		return nil, err
	}

	for i := 0; i < limit; i++ {
		size, err := f.readMeta(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return subs, err
		}

		skipAhead += metaElementSize

		if len(buf) < size {
			buf = make([]byte, size)
		}

		dataBuf := buf[0:size]
		_, err = f.file.Read(dataBuf)
		f.count--
		if err != nil {
			return subs, err
		}

		skipAhead += int64(size)

		var sub batchmast.Submission
		err = sub.UnmarshalBinary(dataBuf)
		if err != nil {
			return subs, err
		}

		subs = append(subs, sub)
	}

	f.order.PutUint64(skipAheadBuf, uint64(skipAhead))
	_, err = f.file.WriteAt(skipAheadBuf, skipAheadOffset)
	if err != nil {
		return subs, err
	}

	_, err = f.file.Seek(0, io.SeekEnd)
	if err != nil {
		return subs, err
	}

	return subs, nil
}
