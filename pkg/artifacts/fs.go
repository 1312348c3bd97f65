package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSRepository reads artifacts from a models directory. Files are named
//
//	{kind}_{line}_{version}.json
//
// where kind is scaler, features or model and version contains no underscore.
// Versions order lexicographically, so sortable stamps such as 20250310T0730
// are expected.
type FSRepository struct {
	dir    string
	client *http.Client
}

// NewFSRepository creates a repository over dir. client is used by remote
// models and may be nil.
func NewFSRepository(dir string, client *http.Client) *FSRepository {
	return &FSRepository{dir: dir, client: client}
}

// FileName returns the file name of an artifact.
func FileName(kind, line, version string) string {
	return fmt.Sprintf("%s_%s_%s.json", kind, line, version)
}

// Versions returns the versions present for each kind, newest first.
func (r *FSRepository) Versions(line string) (map[string][]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("read models dir: %w", err)
	}

	out := make(map[string][]string, len(Kinds))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, kind := range Kinds {
			if v, ok := parseVersion(e.Name(), kind, line); ok {
				out[kind] = append(out[kind], v)
			}
		}
	}
	for kind := range out {
		sort.Sort(sort.Reverse(sort.StringSlice(out[kind])))
	}
	return out, nil
}

// Latest returns the newest version for which scaler, features and model all exist.
func (r *FSRepository) Latest(ctx context.Context, line string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if line == "" {
		return "", errors.New("artifacts: line is required")
	}

	versions, err := r.Versions(line)
	if err != nil {
		return "", err
	}
	return newestComplete(line, versions)
}

// Load reads the three artifacts of version.
func (r *FSRepository) Load(ctx context.Context, line, version string) (*Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	read := func(kind string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(r.dir, FileName(kind, line, version)))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ArtifactNotFoundError{Line: line, Kind: kind, Version: version}
		}
		return data, err
	}

	namesData, err := read(KindFeatures)
	if err != nil {
		return nil, err
	}
	names, err := DecodeFeatureNames(namesData)
	if err != nil {
		return nil, err
	}

	scalerData, err := read(KindScaler)
	if err != nil {
		return nil, err
	}
	scaler, err := DecodeScaler(scalerData)
	if err != nil {
		return nil, err
	}

	modelData, err := read(KindModel)
	if err != nil {
		return nil, err
	}
	model, err := DecodeModel(modelData, names, r.client)
	if err != nil {
		return nil, err
	}

	return &Set{
		Line:         line,
		Version:      version,
		Model:        model,
		Scaler:       scaler,
		FeatureNames: names,
	}, nil
}

func parseVersion(name, kind, line string) (string, bool) {
	prefix := kind + "_" + line + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
	if v == "" || strings.Contains(v, "_") {
		return "", false
	}
	return v, true
}

// newestComplete picks the newest version present for every kind. versions
// must be sorted newest first.
func newestComplete(line string, versions map[string][]string) (string, error) {
	for _, kind := range Kinds {
		if len(versions[kind]) == 0 {
			return "", &ArtifactNotFoundError{Line: line, Kind: kind}
		}
	}

	for _, v := range versions[KindModel] {
		complete := true
		for _, kind := range Kinds {
			if !contains(versions[kind], v) {
				complete = false
				break
			}
		}
		if complete {
			return v, nil
		}
	}

	// Every kind exists, but never under one shared version.
	newest := versions[KindModel][0]
	for _, kind := range Kinds {
		if !contains(versions[kind], newest) {
			return "", &ArtifactNotFoundError{Line: line, Kind: kind, Version: newest}
		}
	}
	return "", &ArtifactNotFoundError{Line: line, Kind: KindModel}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
