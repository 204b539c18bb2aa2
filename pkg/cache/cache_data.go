package cache

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/srand/jolt/taskflow/pkg/device"
)

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Batch held in device memory.
type GPUCacheData struct {
	table      *Table
	allocation *device.Allocation
}

// Move a table into device memory.
// Fails with utils.ErrOutOfMemory if the device cannot hold it.
func NewGPUCacheData(dev *device.Device, table *Table) (*GPUCacheData, error) {
	allocation, err := dev.Allocate(table.SizeInBytes())
	if err != nil {
		return nil, err
	}
	return &GPUCacheData{table: table, allocation: allocation}, nil
}

func (d *GPUCacheData) Type() CacheDataType {
	return GPU
}

func (d *GPUCacheData) SizeInBytes() uint64 {
	return d.table.SizeInBytes()
}

func (d *GPUCacheData) Decache() (*Table, error) {
	return d.table, nil
}

func (d *GPUCacheData) Release() {
	d.allocation.Free()
}

// Batch held in host memory.
type CPUCacheData struct {
	table *Table
}

func NewCPUCacheData(table *Table) *CPUCacheData {
	return &CPUCacheData{table: table}
}

func (d *CPUCacheData) Type() CacheDataType {
	return CPU
}

func (d *CPUCacheData) SizeInBytes() uint64 {
	return d.table.SizeInBytes()
}

func (d *CPUCacheData) Decache() (*Table, error) {
	return d.table, nil
}

func (d *CPUCacheData) Release() {}

// Batch spilled to a zstd compressed file.
type LocalFileCacheData struct {
	fs   afero.Fs
	path string
	name string
	rows int
	size uint64
}

// Spill a table to a new file in dir.
func NewLocalFileCacheData(fs afero.Fs, dir string, table *Table) (*LocalFileCacheData, error) {
	encoder, err := zstdEncoder()
	if err != nil {
		return nil, err
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spill directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+".zst")
	compressed := encoder.EncodeAll(table.Data, nil)
	if err := afero.WriteFile(fs, path, compressed, 0o644); err != nil {
		return nil, fmt.Errorf("spill %s: %w", table.Name, err)
	}

	return &LocalFileCacheData{
		fs:   fs,
		path: path,
		name: table.Name,
		rows: table.Rows,
		size: table.SizeInBytes(),
	}, nil
}

func (d *LocalFileCacheData) Type() CacheDataType {
	return LocalFile
}

func (d *LocalFileCacheData) SizeInBytes() uint64 {
	return d.size
}

func (d *LocalFileCacheData) Path() string {
	return d.path
}

func (d *LocalFileCacheData) Decache() (*Table, error) {
	decoder, err := zstdDecoder()
	if err != nil {
		return nil, err
	}

	compressed, err := afero.ReadFile(d.fs, d.path)
	if err != nil {
		return nil, fmt.Errorf("read spill file: %w", err)
	}

	data, err := decoder.DecodeAll(compressed, make([]byte, 0, d.size))
	if err != nil {
		return nil, fmt.Errorf("decompress spill file %s: %w", d.path, err)
	}

	return NewTable(d.name, d.rows, data), nil
}

func (d *LocalFileCacheData) Release() {
	d.fs.Remove(d.path)
}

// Batch backed by a file that is streamed in on demand.
//
// The materialized size of such a batch is not known until the file has
// been parsed, so SizeInBytes reports the size of the file as stored.
type IOFileCacheData struct {
	fs   afero.Fs
	path string
}

func NewIOFileCacheData(fs afero.Fs, path string) *IOFileCacheData {
	return &IOFileCacheData{fs: fs, path: path}
}

func (d *IOFileCacheData) Type() CacheDataType {
	return IOFile
}

func (d *IOFileCacheData) SizeInBytes() uint64 {
	info, err := d.fs.Stat(d.path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func (d *IOFileCacheData) Path() string {
	return d.path
}

func (d *IOFileCacheData) Decache() (*Table, error) {
	file, err := d.fs.Open(d.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	return NewTable(filepath.Base(d.path), 0, data), nil
}

func (d *IOFileCacheData) Release() {}
