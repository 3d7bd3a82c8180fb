package codec

// Method identifies the compression algorithm applied to an entry.
type Method uint8

// Methods with built-in decoders.
const (
	None Method = iota
	Deflate
	Zlib
	Gzip
	Zstd
	XZ
	LZMA
	BZip2
	Snappy
	S2
	LZ4
	Brotli
)

// Legacy methods. Their decoders are supplied by the caller through
// Registry.Register.
const (
	SZDD Method = iota + 64
	KWAJ
	QBasic
	Blast
	Quantum
	MSZIP
)

var methodNames = map[Method]string{
	None:    "none",
	Deflate: "deflate",
	Zlib:    "zlib",
	Gzip:    "gzip",
	Zstd:    "zstd",
	XZ:      "xz",
	LZMA:    "lzma",
	BZip2:   "bzip2",
	Snappy:  "snappy",
	S2:      "s2",
	LZ4:     "lz4",
	Brotli:  "brotli",
	SZDD:    "szdd",
	KWAJ:    "kwaj",
	QBasic:  "qbasic",
	Blast:   "blast",
	Quantum: "quantum",
	MSZIP:   "mszip",
}

// String returns the human-readable name of the method.
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMethod returns the method with the given name.
func ParseMethod(name string) (Method, bool) {
	for m, n := range methodNames {
		if n == name {
			return m, true
		}
	}
	return 0, false
}
