package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultModel = "small"

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// ModelSpec is a downloadable ggml model with a pinned checksum.
type ModelSpec struct {
	Name         string
	FileName     string
	SHA256       string
	Multilingual bool
}

// URL is the download location of the model file.
func (m ModelSpec) URL() string {
	return m.URLAt(modelBaseURL)
}

// URLAt is the location of the model file under a mirror base URL.
func (m ModelSpec) URLAt(base string) string {
	return strings.TrimSuffix(base, "/") + "/" + m.FileName
}

// ModelLocation is where a model reference points on disk.
type ModelLocation struct {
	Spec          ModelSpec
	Path          string
	NeedsDownload bool
	IsCustomPath  bool
}

// catalog is ordered from smallest to largest.
var catalog = []ModelSpec{
	{Name: "tiny", FileName: "ggml-tiny.bin", SHA256: "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21", Multilingual: true},
	{Name: "base", FileName: "ggml-base.bin", SHA256: "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe", Multilingual: true},
	{Name: "small", FileName: "ggml-small.bin", SHA256: "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b", Multilingual: true},
	{Name: "medium", FileName: "ggml-medium.bin", SHA256: "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208", Multilingual: true},
	{Name: "large-v3", FileName: "ggml-large-v3.bin", SHA256: "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2", Multilingual: true},
}

// Catalog lists the known models.
func Catalog() []ModelSpec {
	out := make([]ModelSpec, len(catalog))
	copy(out, catalog)
	return out
}

func ModelNames() []string {
	names := make([]string, 0, len(catalog))
	for _, m := range catalog {
		names = append(names, m.Name)
	}
	return names
}

func FindModel(name string) (ModelSpec, bool) {
	for _, m := range catalog {
		if m.Name == name {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// LocateModel resolves a catalog name inside modelDir, or a filesystem path
// to a custom model. An empty ref selects DefaultModel.
func LocateModel(ref, modelDir string) (ModelLocation, error) {
	if strings.TrimSpace(ref) == "" {
		ref = DefaultModel
	}

	if spec, ok := FindModel(ref); ok {
		if strings.TrimSpace(modelDir) == "" {
			return ModelLocation{}, errors.New("model directory must not be empty for a catalog model")
		}
		path := filepath.Join(modelDir, spec.FileName)
		_, err := os.Stat(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return ModelLocation{}, fmt.Errorf("stat model path: %w", err)
		}
		return ModelLocation{Spec: spec, Path: path, NeedsDownload: err != nil}, nil
	}

	if !looksLikePath(ref) {
		return ModelLocation{}, fmt.Errorf("unknown model %q (known models: %s)", ref, strings.Join(ModelNames(), ", "))
	}

	path := filepath.Clean(ref)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ModelLocation{}, fmt.Errorf("custom model path does not exist: %s", path)
		}
		return ModelLocation{}, fmt.Errorf("stat custom model path: %w", err)
	}
	return ModelLocation{Spec: ModelSpec{Name: filepath.Base(path), FileName: filepath.Base(path)}, Path: path, IsCustomPath: true}, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}
