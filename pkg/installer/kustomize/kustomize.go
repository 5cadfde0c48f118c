package kustomize

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"sigs.k8s.io/kustomize/api/krusty"
	"sigs.k8s.io/kustomize/api/types"
	"sigs.k8s.io/kustomize/kyaml/filesys"
	yaml "sigs.k8s.io/yaml/goyaml.v3"
)

type Patch struct {
	PatchYAML string
}

// Renderer builds a kustomization with optional patches and an image
// registry override.
type Renderer struct {
	imageRegistry string
	patches       []Patch
}

func NewRenderer() *Renderer {
	return &Renderer{
		patches: []Patch{},
	}
}

// AddPatch adds a strategic merge patch; the patch names its own target.
func (r *Renderer) AddPatch(yaml string) *Renderer {
	r.patches = append(r.patches, Patch{
		PatchYAML: yaml,
	})
	return r
}

// WithImageRegistry rewrites every image found in the rendered sources to
// live under registry, e.g. a local mirror for air-gapped hosts.
func (r *Renderer) WithImageRegistry(registry string) *Renderer {
	r.imageRegistry = strings.TrimSuffix(registry, "/")
	return r
}

// Render runs kustomize over target, which must hold a kustomization.yaml at
// its root.
func (r *Renderer) Render(target fs.FS) ([]byte, error) {
	tmpDir := filepath.Join(os.TempDir(), "k3s-bootstrap-kustomize-"+uuid.New().String())
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := copyFS(target, ".", tmpDir); err != nil {
		return nil, fmt.Errorf("failed to copy embedded FS: %w", err)
	}

	uniqueImages := make(map[string]struct{})
	if r.imageRegistry != "" {
		if err := findImagesInFS(target, uniqueImages); err != nil {
			return nil, fmt.Errorf("failed to find images in target fs: %w", err)
		}
		logrus.Debugf("found %d unique images in target fs", len(uniqueImages))
	}

	kustomizationPath := filepath.Join(tmpDir, "kustomization.yaml")
	kustomizationData, err := os.ReadFile(kustomizationPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read kustomization.yaml: %w", err)
	}

	kustomization := &types.Kustomization{}
	if err := yaml.Unmarshal(kustomizationData, kustomization); err != nil {
		return nil, fmt.Errorf("failed to decode kustomization.yaml: %w", err)
	}

	r.replaceImageRegistry(kustomization, uniqueImages)

	for i, patch := range r.patches {
		patchFilename := fmt.Sprintf("custom-patch-%d.yaml", i)
		patchPath := filepath.Join(tmpDir, patchFilename)

		if err := os.WriteFile(patchPath, []byte(patch.PatchYAML), 0644); err != nil {
			return nil, fmt.Errorf("failed to write patch file: %w", err)
		}

		kustomization.Patches = append(kustomization.Patches, types.Patch{
			Path: patchFilename,
		})
	}

	updatedKustomizationData, err := yaml.Marshal(kustomization)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal updated kustomization: %w", err)
	}

	if err := os.WriteFile(kustomizationPath, updatedKustomizationData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write updated kustomization.yaml: %w", err)
	}

	k := krusty.MakeKustomizer(krusty.MakeDefaultOptions())
	fsys := filesys.MakeFsOnDisk()
	resMap, err := k.Run(fsys, tmpDir)
	if err != nil {
		return nil, fmt.Errorf("kustomize build failed: %w", err)
	}

	yml, err := resMap.AsYaml()
	if err != nil {
		return nil, fmt.Errorf("failed to convert to YAML: %w", err)
	}

	return yml, nil
}

func (r *Renderer) replaceImageRegistry(kustomization *types.Kustomization, uniqueImages map[string]struct{}) {
	if r.imageRegistry == "" {
		return
	}

	// Images already listed in the kustomization win over derived overrides.
	imageOverrides := make(map[string]types.Image)
	for _, img := range kustomization.Images {
		imageOverrides[img.Name] = img
	}

	for imgStr := range uniqueImages {
		ref, err := name.ParseReference(imgStr)
		if err != nil {
			logrus.Debugf("Skipping invalid image reference %q: %v", imgStr, err)
			continue
		}
		originalName := imageName(imgStr)
		if _, exists := imageOverrides[originalName]; exists {
			continue
		}

		repoPath := ref.Context().RepositoryStr()
		// For default Docker Hub images, remove the implicit "library/" path.
		if ref.Context().RegistryStr() == name.DefaultRegistry {
			repoPath = strings.TrimPrefix(repoPath, "library/")
		}

		imageOverrides[originalName] = types.Image{
			Name:    originalName,
			NewName: path.Join(r.imageRegistry, repoPath),
		}
	}

	kustomization.Images = make([]types.Image, 0, len(imageOverrides))
	for _, img := range imageOverrides {
		logrus.Debugf("Replacing image %s with %s", img.Name, img.NewName)
		kustomization.Images = append(kustomization.Images, img)
	}
	sort.Slice(kustomization.Images, func(i, j int) bool {
		return kustomization.Images[i].Name < kustomization.Images[j].Name
	})
}

// imageName strips the tag and digest from ref as written in the manifest.
// kustomize matches images by that literal name, so "busybox:1.36" must map
// to "busybox" rather than its fully qualified docker.io form.
func imageName(ref string) string {
	ref, _, _ = strings.Cut(ref, "@")
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		ref = ref[:i]
	}
	return ref
}

// findImagesInFS walks src, parses all YAML files and collects unique image
// strings.
func findImagesInFS(src fs.FS, images map[string]struct{}) error {
	return fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !(strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml")) {
			return nil
		}

		data, err := fs.ReadFile(src, p)
		if err != nil {
			return err
		}

		decoder := yaml.NewDecoder(strings.NewReader(string(data)))
		for {
			var doc interface{}
			if err := decoder.Decode(&doc); err != nil {
				if !errors.Is(err, io.EOF) {
					logrus.Debugf("Stopped scanning %s for images: %v", p, err)
				}
				break
			}
			findImageKeys(images, doc)
		}
		return nil
	})
}

// findImageKeys recursively traverses a decoded YAML document and collects
// every value of an "image" key.
func findImageKeys(images map[string]struct{}, data interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for key, val := range v {
			if key == "image" {
				if imageName, ok := val.(string); ok {
					images[imageName] = struct{}{}
				}
			} else {
				findImageKeys(images, val)
			}
		}
	case []interface{}:
		for _, item := range v {
			findImageKeys(images, item)
		}
	}
}

// copyFS copies src to disk under dst.
func copyFS(src fs.FS, basePath, dst string) error {
	return fs.WalkDir(src, basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		targetPath := filepath.Join(dst, p)
		if d.IsDir() {
			return os.MkdirAll(targetPath, 0755)
		}

		data, err := fs.ReadFile(src, p)
		if err != nil {
			return err
		}
		return os.WriteFile(targetPath, data, 0644)
	})
}
