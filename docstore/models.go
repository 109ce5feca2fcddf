package docstore

import (
	"fmt"
	"time"
)

const (
	KeyDocument  = "document_name"
	KeyPage      = "page_number"
	KeyChunk     = "chunk_number"
	KeyChecksum  = "file_crc"
	KeyTimestamp = "timestamp"
)

type Metadata struct {
	Document  string
	Page      int
	Chunk     int
	Checksum  uint32
	Timestamp time.Time
}

type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Meta      Metadata
}

type Hit struct {
	ID       string
	Text     string
	Meta     Metadata
	Distance float64
}

type DocumentInfo struct {
	Name     string
	Checksum uint32
	Chunks   int
	Pages    int
}

// Filter restricts a query to one document.
type Filter struct {
	Document string
}

// RecordID derives the stored id of a chunk. Ids are unique per document.
func RecordID(document string, chunk int) string {
	return fmt.Sprintf("%s_chunk_%d", document, chunk)
}
