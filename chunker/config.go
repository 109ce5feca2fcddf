package chunker

import (
	"errors"
	"fmt"
)

type Strategy string

const (
	StrategySentence  Strategy = "sentence"
	StrategyCharacter Strategy = "character"
	StrategyAuto      Strategy = "auto"
)

// Config controls segmentation. All sizes are measured in characters.
type Config struct {
	ChunkSize         int      `yaml:"chunk_size"`
	ChunkOverlap      int      `yaml:"chunk_overlap"`
	MinChunkSize      int      `yaml:"min_chunk_size"`
	Strategy          Strategy `yaml:"strategy"`
	RespectParagraphs bool     `yaml:"respect_paragraphs"`
	MaxUnitLength     int      `yaml:"max_unit_length"`
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:         500,
		ChunkOverlap:      100,
		MinChunkSize:      50,
		Strategy:          StrategyAuto,
		RespectParagraphs: true,
		MaxUnitLength:     1000,
	}
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.New("chunk_size must be positive")
	}

	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}

	if c.MinChunkSize < 0 || c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("min_chunk_size must be in [0, %d], got %d", c.ChunkSize, c.MinChunkSize)
	}

	if c.MaxUnitLength <= 0 {
		return errors.New("max_unit_length must be positive")
	}

	switch c.Strategy {
	case StrategySentence, StrategyCharacter, StrategyAuto:
	default:
		return fmt.Errorf("unknown chunking strategy: %q", c.Strategy)
	}

	return nil
}
