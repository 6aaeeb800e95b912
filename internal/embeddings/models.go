package embeddings

import "strings"

// localModelDimensions lists the ONNX models the local provider can load.
var localModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// DefaultLocalModel is loaded when the fastembed provider has no model set.
const DefaultLocalModel = "BAAI/bge-small-en-v1.5"

// localModelDimension accepts both the hub name and the fast- alias.
func localModelDimension(model string) (int, bool) {
	if dim, ok := localModelDimensions[model]; ok {
		return dim, true
	}
	for name, dim := range localModelDimensions {
		if "fast-"+name[strings.LastIndex(name, "/")+1:] == model {
			return dim, true
		}
	}
	return 0, false
}

// detectDimensionFromModel guesses the output length of a model by name.
func detectDimensionFromModel(model string) int {
	if dim, ok := localModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.HasPrefix(model, "text-embedding-3-large"):
		return 3072
	case strings.HasPrefix(model, "text-embedding"):
		return 1536
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}
