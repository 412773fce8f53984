package models

import "strconv"

// Metadata keys stored alongside every vector-store record.
const (
	MetaSourceFileID   = "source_file_id"
	MetaSourceFilename = "source_filename"
	MetaChunkIndex     = "chunk_index"
	MetaSectionTitle   = "section_title"
	MetaPageNumber     = "page_number"
)

// ChunkMetadata is the metadata persisted with each chunk.
type ChunkMetadata struct {
	SourceFileID   int64  `json:"source_file_id"`
	SourceFilename string `json:"source_filename"`
	ChunkIndex     int    `json:"chunk_index"`
	SectionTitle   string `json:"section_title"`
	PageNumber     int    `json:"page_number"`
}

// Chunk is a contiguous span of one document's extracted text.
type Chunk struct {
	Text           string
	SourceFileID   int64
	SourceFilename string
	ChunkIndex     int
	SectionTitle   string
	PageNumber     int
}

func (c Chunk) Metadata() ChunkMetadata {
	return ChunkMetadata{
		SourceFileID:   c.SourceFileID,
		SourceFilename: c.SourceFilename,
		ChunkIndex:     c.ChunkIndex,
		SectionTitle:   c.SectionTitle,
		PageNumber:     c.PageNumber,
	}
}

// ToMap flattens metadata into the string map used by the vector index.
func (m ChunkMetadata) ToMap() map[string]string {
	return map[string]string{
		MetaSourceFileID:   strconv.FormatInt(m.SourceFileID, 10),
		MetaSourceFilename: m.SourceFilename,
		MetaChunkIndex:     strconv.Itoa(m.ChunkIndex),
		MetaSectionTitle:   m.SectionTitle,
		MetaPageNumber:     strconv.Itoa(m.PageNumber),
	}
}

// MetadataFromMap is the inverse of ToMap. Malformed numbers decode as zero.
func MetadataFromMap(m map[string]string) ChunkMetadata {
	fileID, _ := strconv.ParseInt(m[MetaSourceFileID], 10, 64)
	index, _ := strconv.Atoi(m[MetaChunkIndex])
	page, _ := strconv.Atoi(m[MetaPageNumber])
	return ChunkMetadata{
		SourceFileID:   fileID,
		SourceFilename: m[MetaSourceFilename],
		ChunkIndex:     index,
		SectionTitle:   m[MetaSectionTitle],
		PageNumber:     page,
	}
}

// Record is the persisted unit of a vector store.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  ChunkMetadata
}
