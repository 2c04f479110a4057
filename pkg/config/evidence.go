package config

// EvidenceConfig is the subset of settings the evidence index needs.
type EvidenceConfig struct {
	GoogleApiKey string
	Model        string
	Dimensions   int
	Collection   string
	ChunkSize    int
	ChunkOverlap int
}

// Evidence returns the evidence index settings. The index is disabled when
// there is no database or no Google key for embeddings.
func (c *Config) Evidence() (EvidenceConfig, bool) {
	ec := EvidenceConfig{
		GoogleApiKey: c.GoogleApiKey,
		Model:        c.EmbeddingModel,
		Dimensions:   c.EmbeddingDimensions,
		Collection:   c.CollectionName,
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
	}
	return ec, c.DatabaseURL != "" && c.GoogleApiKey != ""
}
