package historical

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/exp/mmap"
)

var ErrEof = errors.New("EOF")

// Record is the packed on-disk candle layout, little endian, 48 bytes.
type Record struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Source reads fixed-size candle records from a memory-mapped file.
type Source struct {
	dataSourceName string
	reader         *mmap.ReaderAt
	bufferPool     *sync.Pool
}

func NewSource(dataSourceName string) *Source {
	return &Source{
		dataSourceName: dataSourceName,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buffer := make([]byte, int(unsafe.Sizeof(Record{})))
				return &buffer
			},
		},
	}
}

func (s *Source) Open() error {
	var err error
	s.reader, err = mmap.Open(s.dataSourceName)
	if err != nil {
		return fmt.Errorf("unable to open data source %q: %w", s.dataSourceName, err)
	}
	return nil
}

func (s *Source) Close() {
	_ = s.reader.Close()
}

func (s *Source) Read(index int64, record *Record) error {
	buffer := s.bufferPool.Get().(*[]byte)
	defer s.bufferPool.Put(buffer)

	offset := index * int64(len(*buffer))

	n, err := s.reader.ReadAt(*buffer, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("unable to read: %w", err)
	}
	if n < len(*buffer) {
		return ErrEof
	}

	*record = *(*Record)(unsafe.Pointer(&(*buffer)[0])) // #nosec G103
	return nil
}

func (s *Source) EntryCount() (int64, error) {

	entrySize := int64(unsafe.Sizeof(Record{}))

	fileInfo, err := os.Stat(s.dataSourceName)
	if err != nil {
		return 0, fmt.Errorf("unable to get data source %q stats: %w", s.dataSourceName, err)
	}

	totalSize := fileInfo.Size()
	if totalSize%entrySize != 0 {
		return 0, fmt.Errorf("file size is not a multiple of entry size")
	}

	return totalSize / entrySize, nil
}
