package excel

// Config holds configuration for a workbook note source
type Config struct {
	FilePath string `json:"file_path"`
	// CategoryMaxDistinct is the most distinct labels a text column may have
	// and still be read as a category
	CategoryMaxDistinct int `json:"category_max_distinct"`
}

// DefaultConfig returns defaults for reading path
func DefaultConfig(path string) Config {
	return Config{
		FilePath:            path,
		CategoryMaxDistinct: 20,
	}
}
