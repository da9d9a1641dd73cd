package tp

// Data is the engine's only view of a transported payload. Implementations do
// not need contiguous memory; the engine reads and writes single bytes and
// never indexes past Len.
type Data interface {
	Len() int
	GetByte(index int) byte
	SetByte(index int, value byte)
}

// DataVector owns its backing storage. Used for rx sessions and for tx
// payloads handed over by value.
type DataVector struct {
	buf []byte
}

// NewDataVector allocates an owned zeroed buffer of the given size.
func NewDataVector(size int) *DataVector {
	return &DataVector{buf: make([]byte, size)}
}

// NewDataVectorFromBytes copies data into an owned buffer.
func NewDataVectorFromBytes(data []byte) *DataVector {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &DataVector{buf: buf}
}

func (d *DataVector) Len() int                      { return len(d.buf) }
func (d *DataVector) GetByte(index int) byte        { return d.buf[index] }
func (d *DataVector) SetByte(index int, value byte) { d.buf[index] = value }

// Bytes returns the backing buffer without copying.
func (d *DataVector) Bytes() []byte { return d.buf }

// DataView lends a caller-owned slice to the engine. The caller must keep the
// slice alive and untouched for the lifetime of the session using it.
type DataView struct {
	buf []byte
}

// NewDataView wraps data without copying.
func NewDataView(data []byte) *DataView {
	return &DataView{buf: data}
}

func (d *DataView) Len() int                      { return len(d.buf) }
func (d *DataView) GetByte(index int) byte        { return d.buf[index] }
func (d *DataView) SetByte(index int, value byte) { d.buf[index] = value }

// Bytes returns the lent slice.
func (d *DataView) Bytes() []byte { return d.buf }

// ChunkCallback supplies payload bytes on demand for callback-backed tx
// payloads. It must fill buf[:length] with the bytes at the given absolute
// offset into the message.
type ChunkCallback func(offset int, length int, buf []byte)

// DataCallback pulls payload bytes from a producer callback in fixed-size
// chunks, keeping one chunk buffered at a time. Reads must advance forward,
// which holds for the engine's sequential packing. Tx only; SetByte is a no-op.
type DataCallback struct {
	total    int
	chunk    int
	callback ChunkCallback
	buf      []byte
	offset   int
	filled   bool
}

// DefaultChunkSize matches one data frame's worth of payload.
const DefaultChunkSize = protocolBytesPerFrame

// NewDataCallback creates a callback-backed payload of the given total size.
// A chunkSize of 0 selects DefaultChunkSize.
func NewDataCallback(size int, chunkSize int, callback ChunkCallback) *DataCallback {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &DataCallback{
		total:    size,
		chunk:    chunkSize,
		callback: callback,
		buf:      make([]byte, chunkSize),
	}
}

func (d *DataCallback) Len() int { return d.total }

func (d *DataCallback) GetByte(index int) byte {
	if !d.filled {
		d.fill(0)
	}
	for index >= d.offset+d.chunk {
		d.fill(d.offset + d.chunk)
	}
	return d.buf[index-d.offset]
}

func (d *DataCallback) fill(offset int) {
	d.offset = offset
	length := d.total - offset
	if length > d.chunk {
		length = d.chunk
	}
	d.callback(offset, length, d.buf)
	d.filled = true
}

// SetByte is not supported for producer-backed payloads.
func (d *DataCallback) SetByte(int, byte) {}
