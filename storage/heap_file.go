package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/transaction"
)

// HeapFile stores the tuples of one table as an unordered sequence of HeapPages.
//
// Page n lives at byte offset n*PageSize. The file length is always a multiple of PageSize after
// any write made through this type. A short trailing page written by someone else reads as zero-padded.
type HeapFile struct {
	file       *os.File
	path       string
	id         common.TableID
	desc       *TupleDesc
	bufferPool *BufferPool
	// numPages caches the file length in pages to avoid stat() on every call.
	numPages atomic.Int32
	// allocMu serializes file growth.
	allocMu sync.Mutex
}

// NewHeapFile opens, or creates, the heap file at path. Tuple operations go through bp.
func NewHeapFile(path string, desc *TupleDesc, bp *BufferPool) (*HeapFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve heap file path %q: %w", path, err)
	}
	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("open heap file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat heap file: %w", err)
	}
	hf := &HeapFile{
		file:       f,
		path:       abs,
		id:         TableIDForPath(abs),
		desc:       desc,
		bufferPool: bp,
	}
	hf.numPages.Store(int32((stat.Size() + int64(common.PageSize) - 1) / int64(common.PageSize)))
	return hf, nil
}

// TableIDForPath derives the table id of the heap file at path. The same path always yields the same id.
func TableIDForPath(path string) common.TableID {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	h := common.Hash([]byte(filepath.Clean(path)))
	id := common.TableID(uint32(h) ^ uint32(h>>32))
	if id == common.InvalidTableID {
		id = 1
	}
	return id
}

func (hf *HeapFile) ID() common.TableID {
	return hf.id
}

func (hf *HeapFile) TupleDesc() *TupleDesc {
	return hf.desc
}

// Path returns the absolute path of the file.
func (hf *HeapFile) Path() string {
	return hf.path
}

func (hf *HeapFile) NumPages() (int, error) {
	return int(hf.numPages.Load()), nil
}

func (hf *HeapFile) ReadPage(pid common.PageID) (Page, error) {
	if pid.Table != hf.id {
		return nil, common.Errorf(common.TableMismatchError, "%s does not belong to table %d", pid, hf.id)
	}
	if pid.PageNum < 0 || pid.PageNum >= hf.numPages.Load() {
		return nil, fmt.Errorf("read out of bounds: %s does not exist (file has %d pages)", pid, hf.numPages.Load())
	}
	data := make([]byte, common.PageSize)
	n, err := hf.file.ReadAt(data, int64(pid.PageNum)*int64(common.PageSize))
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return nil, fmt.Errorf("read %s: %w", pid, err)
	}
	return NewHeapPage(pid, data, hf.desc)
}

func (hf *HeapFile) WritePage(page Page) error {
	pid := page.ID()
	if pid.Table != hf.id {
		return common.Errorf(common.TableMismatchError, "%s does not belong to table %d", pid, hf.id)
	}
	data, err := page.PageData()
	if err != nil {
		return err
	}
	return hf.writePageData(pid.PageNum, data)
}

func (hf *HeapFile) writePageData(pageNum int32, data []byte) error {
	common.Assert(len(data) == common.PageSize, "page data must be exactly PageSize bytes")
	hf.allocMu.Lock()
	defer hf.allocMu.Unlock()
	numPages := hf.numPages.Load()
	if pageNum < 0 || pageNum > numPages {
		return fmt.Errorf("write out of bounds: page %d (file has %d pages)", pageNum, numPages)
	}
	if _, err := hf.file.WriteAt(data, int64(pageNum)*int64(common.PageSize)); err != nil {
		return fmt.Errorf("write page %d of table %d: %w", pageNum, hf.id, err)
	}
	if pageNum == numPages {
		hf.numPages.Store(numPages + 1)
	}
	return nil
}

// appendEmptyPage extends the file by one empty heap page and returns its page number.
func (hf *HeapFile) appendEmptyPage() (int32, error) {
	hf.allocMu.Lock()
	pageNum := hf.numPages.Load()
	hf.allocMu.Unlock()
	// a concurrent append may win the slot; writePageData rejects the gap and we retry
	for {
		err := hf.writePageData(pageNum, EmptyPageData())
		if err == nil {
			return pageNum, nil
		}
		current := hf.numPages.Load()
		if current == pageNum {
			return 0, err
		}
		pageNum = current
	}
}

// InsertTuple scans the pages under shared locks for one with a free slot, upgrades that page to an exclusive lock,
// and inserts there. The shared unit taken on each full page is released again. If every page is full, an empty page
// is appended and the tuple goes there.
func (hf *HeapFile) InsertTuple(tid common.TransactionID, t *Tuple) ([]Page, error) {
	if !hf.desc.Equals(t.Desc()) {
		return nil, common.Errorf(common.TypeMismatchError, "tuple schema %s does not match table schema %s", t.Desc(), hf.desc)
	}
	lm := hf.bufferPool.LockManager()
	numPages := hf.numPages.Load()
	for pageNum := int32(0); ; pageNum++ {
		appended := false
		if pageNum >= numPages {
			var err error
			if pageNum, err = hf.appendEmptyPage(); err != nil {
				return nil, err
			}
			numPages = pageNum + 1
			appended = true
		}
		pid := common.PageID{Table: hf.id, PageNum: pageNum}
		if !appended {
			page, err := hf.bufferPool.GetPage(tid, pid, common.ReadOnly)
			if err != nil {
				return nil, err
			}
			if page.(*HeapPage).NumEmptySlots() == 0 {
				lm.Unlock(tid, pid, transaction.LockModeS)
				continue
			}
		}
		page, err := hf.bufferPool.GetPage(tid, pid, common.ReadWrite)
		if err != nil {
			return nil, err
		}
		hp := page.(*HeapPage)
		if hp.NumEmptySlots() == 0 {
			// filled by another transaction between the append and our exclusive lock
			continue
		}
		if err := hp.InsertTuple(t); err != nil {
			return nil, err
		}
		return []Page{hp}, nil
	}
}

func (hf *HeapFile) DeleteTuple(tid common.TransactionID, t *Tuple) ([]Page, error) {
	rid := t.RID()
	if rid == nil {
		return nil, common.Errorf(common.TupleNotFoundError, "tuple has no record id")
	}
	if rid.Table != hf.id {
		return nil, common.Errorf(common.TableMismatchError, "%s is not in table %d", rid, hf.id)
	}
	page, err := hf.bufferPool.GetPage(tid, rid.PageID, common.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := page.(*HeapPage).DeleteTuple(t); err != nil {
		return nil, err
	}
	return []Page{page}, nil
}

func (hf *HeapFile) Iterator(tid common.TransactionID) TupleIterator {
	return &HeapFileIterator{file: hf, tid: tid, pageNum: -1}
}

func (hf *HeapFile) Close() error {
	return hf.file.Close()
}

// HeapFileIterator yields every tuple of a HeapFile, one page at a time, under shared locks held by tid.
// Only the current page is materialized.
type HeapFileIterator struct {
	file     *HeapFile
	tid      common.TransactionID
	pageNum  int32
	pageIter *HeapPageIterator
	current  *Tuple
	err      error
	closed   bool
}

func (it *HeapFileIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	for {
		if it.pageIter != nil && it.pageIter.Next() {
			it.current = it.pageIter.Current()
			return true
		}
		if it.pageNum+1 >= it.file.numPages.Load() {
			it.current = nil
			return false
		}
		it.pageNum++
		pid := common.PageID{Table: it.file.id, PageNum: it.pageNum}
		page, err := it.file.bufferPool.GetPage(it.tid, pid, common.ReadOnly)
		if err != nil {
			it.err = err
			it.current = nil
			return false
		}
		it.pageIter = page.(*HeapPage).Iterator()
	}
}

func (it *HeapFileIterator) Current() *Tuple {
	return it.current
}

func (it *HeapFileIterator) Error() error {
	return it.err
}

func (it *HeapFileIterator) Rewind() error {
	if it.closed {
		return common.Errorf(common.IllegalOperationError, "rewind of closed iterator")
	}
	it.pageNum = -1
	it.pageIter = nil
	it.current = nil
	it.err = nil
	return nil
}

func (it *HeapFileIterator) Close() {
	it.closed = true
	it.pageIter = nil
	it.current = nil
}
